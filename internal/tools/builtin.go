package tools

import (
	"fmt"
	"strings"
	"time"
)

// ---------- Built-in scanner tools ----------

// Builtins returns the scanner tool specs in their presentation order.
// binaries maps a tool name to an executable path overriding the default
// found on PATH.
func Builtins(binaries map[string]string) []Spec {
	bin := func(name string) string {
		if b := strings.TrimSpace(binaries[name]); b != "" {
			return b
		}
		return name
	}

	return []Spec{
		{
			Name: "nmap",
			Description: "Network scanner. Discovers open ports and identifies the services and " +
				"versions listening on them. Start here for an unknown host.",
			Binary:  bin("nmap"),
			Timeout: 10 * time.Minute,
			Params: []Param{
				{Name: "target", Type: TypeString, Required: true, Description: "Host name or IP address to scan."},
				{Name: "ports", Type: TypeString, Description: "Port list or ranges, e.g. \"22,80,443\" or \"1-65535\". Defaults to nmap's top 1000."},
				{Name: "scripts", Type: TypeString, Description: "Comma separated NSE scripts or categories, e.g. \"default,vuln\"."},
				{Name: "service_detection", Type: TypeBoolean, Description: "Probe open ports for service versions (-sV). Default true."},
				{Name: "timing", Type: TypeInteger, Bounds: &Bounds{Min: 0, Max: 5}, Description: "Timing template 0 (paranoid) to 5 (insane)."},
			},
			Build: buildNmap,
		},
		{
			Name: "gobuster",
			Description: "Brute forces directories and files on a web server using a wordlist. " +
				"Use after a web service has been found.",
			Binary:  bin("gobuster"),
			Timeout: 10 * time.Minute,
			Params: []Param{
				{Name: "url", Type: TypeString, Required: true, Description: "Base URL, e.g. \"http://10.10.10.5/\"."},
				{Name: "wordlist", Type: TypeString, Required: true, Description: "Path of the wordlist file on the local machine."},
				{Name: "extensions", Type: TypeString, Description: "Comma separated file extensions to append, e.g. \"php,txt\"."},
				{Name: "threads", Type: TypeInteger, Bounds: &Bounds{Min: 1, Max: 100}, Description: "Number of concurrent threads."},
			},
			Build: buildGobuster,
		},
		{
			Name:        "whatweb",
			Description: "Fingerprints a web application: server, frameworks, CMS and versions.",
			Binary:      bin("whatweb"),
			Timeout:     2 * time.Minute,
			Params: []Param{
				{Name: "url", Type: TypeString, Required: true, Description: "URL to fingerprint."},
				{Name: "aggression", Type: TypeInteger, Bounds: &Bounds{Min: 1, Max: 4}, Description: "Aggression level 1 (stealthy) to 4 (heavy). Default 1."},
			},
			Build: buildWhatweb,
		},
		{
			Name:        "nikto",
			Description: "Web server vulnerability scanner. Reports dangerous files, outdated software and misconfigurations.",
			Binary:      bin("nikto"),
			Timeout:     15 * time.Minute,
			Params: []Param{
				{Name: "host", Type: TypeString, Required: true, Description: "Host name, IP address or URL of the web server."},
				{Name: "port", Type: TypeInteger, Bounds: &Bounds{Min: 1, Max: 65535}, Description: "Port of the web server."},
				{Name: "ssl", Type: TypeBoolean, Description: "Force TLS on the connection."},
			},
			Build: buildNikto,
		},
		{
			Name:        "sqlmap",
			Description: "Tests a URL's parameters for SQL injection. Runs non-interactively.",
			Binary:      bin("sqlmap"),
			Timeout:     15 * time.Minute,
			Params: []Param{
				{Name: "url", Type: TypeString, Required: true, Description: "Target URL including the query string to test."},
				{Name: "data", Type: TypeString, Description: "POST body to test, e.g. \"user=a&pass=b\"."},
				{Name: "level", Type: TypeInteger, Bounds: &Bounds{Min: 1, Max: 5}, Description: "Test level 1 to 5."},
				{Name: "risk", Type: TypeInteger, Bounds: &Bounds{Min: 1, Max: 3}, Description: "Risk level 1 to 3."},
			},
			Build: buildSqlmap,
		},
	}
}

// DefaultRegistry returns a registry holding every built-in tool.
func DefaultRegistry(binaries map[string]string) (*Registry, error) {
	return NewRegistry(Builtins(binaries)...)
}

func buildNmap(args Args) ([]string, error) {
	var argv []string
	if args.Bool("service_detection", true) {
		argv = append(argv, "-sV")
	}
	if t, ok := args.Int("timing"); ok {
		argv = append(argv, fmt.Sprintf("-T%d", t))
	}
	if p, ok := args.String("ports"); ok && p != "" {
		argv = append(argv, "-p", p)
	}
	if s, ok := args.String("scripts"); ok && s != "" {
		argv = append(argv, "--script", s)
	}
	target, _ := args.String("target")
	return append(argv, target), nil
}

func buildGobuster(args Args) ([]string, error) {
	url, _ := args.String("url")
	if err := requireHTTP("gobuster", "url", url); err != nil {
		return nil, err
	}
	wordlist, _ := args.String("wordlist")
	argv := []string{"dir", "-q", "-u", url, "-w", wordlist}
	if x, ok := args.String("extensions"); ok && x != "" {
		argv = append(argv, "-x", x)
	}
	if t, ok := args.Int("threads"); ok {
		argv = append(argv, "-t", fmt.Sprint(t))
	}
	return argv, nil
}

func buildWhatweb(args Args) ([]string, error) {
	aggression := 1
	if a, ok := args.Int("aggression"); ok {
		aggression = a
	}
	url, _ := args.String("url")
	return []string{"--color=never", "-a", fmt.Sprint(aggression), url}, nil
}

func buildNikto(args Args) ([]string, error) {
	host, _ := args.String("host")
	argv := []string{"-h", host}
	if p, ok := args.Int("port"); ok {
		argv = append(argv, "-p", fmt.Sprint(p))
	}
	if args.Bool("ssl", false) {
		argv = append(argv, "-ssl")
	}
	return append(argv, "-nointeractive"), nil
}

func buildSqlmap(args Args) ([]string, error) {
	url, _ := args.String("url")
	if err := requireHTTP("sqlmap", "url", url); err != nil {
		return nil, err
	}
	argv := []string{"-u", url, "--batch"}
	if d, ok := args.String("data"); ok && d != "" {
		argv = append(argv, "--data", d)
	}
	if l, ok := args.Int("level"); ok {
		argv = append(argv, "--level", fmt.Sprint(l))
	}
	if r, ok := args.Int("risk"); ok {
		argv = append(argv, "--risk", fmt.Sprint(r))
	}
	return argv, nil
}

func requireHTTP(tool, param, url string) error {
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return &ArgumentError{Tool: tool, Param: param, Reason: "must be an http:// or https:// URL"}
	}
	return nil
}

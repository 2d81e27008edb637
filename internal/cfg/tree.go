package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissing reports a required configuration key that is absent.
var ErrMissing = errors.New("config key missing")

// Missing returns an error wrapping ErrMissing for the dotted key.
func Missing(key string) error { return fmt.Errorf("%w: %s", ErrMissing, key) }

// Tree is a nested settings document addressed by dotted path.
type Tree map[string]any

// ParseTree decodes a YAML document. An empty document is an empty tree.
func ParseTree(b []byte) (Tree, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if m == nil {
		return Tree{}, nil
	}
	return Tree(m), nil
}

func LoadFile(path string) (Tree, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseTree(b)
}

// Lookup resolves a dotted path such as "bundles.client.webPath".
func (t Tree) Lookup(path string) (any, error) {
	if path == "" {
		return nil, Missing(path)
	}
	var cur any = t
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch v := cur.(type) {
		case Tree:
			m = v
		case map[string]any:
			m = v
		default:
			return nil, Missing(path)
		}
		var ok bool
		cur, ok = m[part]
		if !ok {
			return nil, Missing(path)
		}
	}
	if cur == nil {
		return nil, Missing(path)
	}
	return cur, nil
}

// flagKeys maps flags to their dotted path in the config file. Flags not
// listed use their own name as a top-level key.
var flagKeys = map[string]string{
	"host":                   "host",
	"port":                   "port",
	"public-url":             "publicUrl",
	"app-root":               "appRoot",
	"public-assets-path":     "publicAssetsPath",
	"client-web-path":        "bundles.client.webPath",
	"client-output-path":     "bundles.client.outputPath",
	"sw-enabled":             "serviceWorker.enabled",
	"sw-file-name":           "serviceWorker.fileName",
	"sw-offline-page":        "serviceWorker.offlinePageFileName",
	"client-dev-proxy":       "clientDevProxy",
	"client-dev-server-port": "clientDevServerPort",
	"enforce-https":          "enforceHttps",
	"password-protect":       "passwordProtect",
	"welcome-message":        "welcomeMessage",
	"templates-dir":          "templatesDir",
	"bundle-s3-bucket":       "bundles.client.s3Bucket",
	"bundle-s3-prefix":       "bundles.client.s3Prefix",
	"bundle-ssm-param":       "bundles.client.ssmParam",
	"bundle-signing-key-arn": "bundles.client.signingKeyArn",
	"bundle-poll-interval":   "bundles.client.pollInterval",
}

// KeyFor returns the dotted config path for a flag name.
func KeyFor(flagName string) string {
	if k, ok := flagKeys[flagName]; ok {
		return k
	}
	return flagName
}

// ApplyFile sets every flag that was not already set (on the CLI or from
// the environment) from the tree. Run it after FillFromEnv so precedence is
// cli > env > file > default.
func ApplyFile(fs *flag.FlagSet, t Tree) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || f.Name == "config" {
			return
		}
		key := KeyFor(f.Name)
		v, err := t.Lookup(key)
		if err != nil {
			return
		}
		if err := fs.Set(f.Name, scalar(v)); err != nil {
			errs = append(errs, fmt.Errorf("config key %s: %w", key, err))
		}
	})
	return errors.Join(errs...)
}

// scalar renders a decoded YAML value the way the flag parser expects it
func scalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

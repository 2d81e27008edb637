package sitehttp

import (
	"path"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/devproxy"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/static"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/version"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// DefaultCompressionLevel is the gzip/brotli level of the compression stage.
const DefaultCompressionLevel = 5

const basicAuthRealm = "linnemanlabs"

// Units holds the pre-built middleware the assembler chooses from. A unit
// the build mode or configuration rules out is left nil.
type Units struct {
	Security      pipeline.Middleware
	Compression   pipeline.Middleware
	ServiceWorker pipeline.Middleware
	OfflinePage   pipeline.Middleware
	DevProxy      pipeline.Middleware
	EnforceHTTPS  pipeline.Middleware
	ClientBundle  pipeline.Middleware
	PublicAssets  pipeline.Middleware
	BasicAuth     pipeline.Middleware
}

type Deps struct {
	// Bundle is the active client bundle: the client output directory on
	// disk or the release loaded from S3.
	Bundle static.Source

	// Public overrides the public assets directory resolved from the site
	// config.
	Public static.Source

	CompressionLevel int

	// DevServerHost is where the client dev server listens; default
	// localhost.
	DevServerHost string
}

// BuildUnits constructs every unit eligible under mode. Units that are not
// eligible stay nil so the assembler cannot pick them up by mistake.
func BuildUnits(mode version.Mode, site cfg.Site, deps Deps) (Units, error) {
	if _, err := version.ParseMode(string(mode)); err != nil {
		return Units{}, err
	}
	if site.ClientWebPath == "" {
		return Units{}, cfg.Missing("bundles.client.webPath")
	}
	if deps.Bundle == nil {
		return Units{}, xerrors.New("sitehttp: client bundle source required")
	}
	if deps.CompressionLevel == 0 {
		deps.CompressionLevel = DefaultCompressionLevel
	}

	var u Units
	devProxy := mode.IsDevelopment() && site.ClientDevProxy

	secOpts := httpmw.SecurityOptions{Development: mode.IsDevelopment()}
	if devProxy {
		proxyOpts := devproxy.Options{
			Host:  deps.DevServerHost,
			Port:  site.ClientDevServerPort,
			Paths: append([]string{site.ClientWebPath}, devproxy.DefaultPaths...),
		}
		p, err := devproxy.New(proxyOpts)
		if err != nil {
			return Units{}, xerrors.Wrap(err, "build dev proxy")
		}
		u.DevProxy = p.Middleware
		secOpts.DevServerOrigins = []string{proxyOpts.Origin()}
	}
	u.Security = httpmw.Compose(httpmw.SecurityHeaders(secOpts), httpmw.ParamGuard)
	u.Compression = httpmw.Compress(deps.CompressionLevel)

	if mode.IsProduction() && site.ServiceWorker.Enabled {
		if site.ServiceWorker.FileName == "" {
			return Units{}, cfg.Missing("serviceWorker.fileName")
		}
		if site.ServiceWorker.OfflinePageFileName == "" {
			return Units{}, cfg.Missing("serviceWorker.offlinePageFileName")
		}
		u.ServiceWorker = static.ServiceWorker(deps.Bundle, site.ServiceWorker.FileName)
		u.OfflinePage = static.OfflinePage(deps.Bundle, site.ServiceWorker.OfflinePageFileName)
	}

	if mode.IsProduction() && site.EnforceHTTPS {
		u.EnforceHTTPS = httpmw.EnforceHTTPS
	}

	bundle, err := static.New(static.Options{
		Files:     deps.Bundle,
		Prefix:    site.ClientWebPath,
		Immutable: true,
	})
	if err != nil {
		return Units{}, xerrors.Wrap(err, "build client bundle unit")
	}
	u.ClientBundle = bundle.Middleware

	public := deps.Public
	if public == nil {
		if site.PublicAssetsPath == "" {
			return Units{}, cfg.Missing("publicAssetsPath")
		}
		public = static.Dir(site.AppRoot, site.PublicAssetsPath)
	}
	assets, err := static.New(static.Options{Files: public})
	if err != nil {
		return Units{}, xerrors.Wrap(err, "build public assets unit")
	}
	u.PublicAssets = assets.Middleware

	if site.PasswordProtect != "" {
		gate, err := httpmw.BasicAuth(site.PasswordProtect, basicAuthRealm)
		if err != nil {
			return Units{}, xerrors.Wrap(err, "build basic auth unit")
		}
		u.BasicAuth = gate
	}
	return u, nil
}

// serviceWorkerPath is where the browser fetches the worker: the site root,
// so its scope covers every page.
func serviceWorkerPath(site cfg.Site) string {
	return "/" + site.ServiceWorker.FileName
}

func offlinePagePath(site cfg.Site) string {
	return path.Join(site.ClientWebPath, site.ServiceWorker.OfflinePageFileName)
}

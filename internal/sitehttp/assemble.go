package sitehttp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/version"
)

// Stage names, in pipeline order.
const (
	StageSecurity      = "security"
	StageCompression   = "compression"
	StageServiceWorker = "service-worker"
	StageOfflinePage   = "offline-page"
	StageDevProxy      = "dev-proxy"
	StageEnforceHTTPS  = "enforce-https"
	StageClientBundle  = "client-bundle"
	StagePublicAssets  = "public-assets"
	StageBasicAuth     = "basic-auth"
)

// Assemble orders the units for mode and site. The result depends only on
// its arguments. Render is not a stage; the dispatcher falls back to it
// after the last one passes.
//
// basic-auth runs after client-bundle and public-assets, so static files
// are served without credentials and only rendered pages are gated.
func Assemble(mode version.Mode, site cfg.Site, u Units) (*pipeline.Sequence, error) {
	if _, err := version.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if site.ClientWebPath == "" {
		return nil, cfg.Missing("bundles.client.webPath")
	}

	var (
		stages []pipeline.Stage
		errs   []error
	)
	add := func(name string, m pipeline.Mount, unit pipeline.Middleware) {
		if unit == nil {
			errs = append(errs, fmt.Errorf("sitehttp: stage %s selected but its unit was not built", name))
			return
		}
		stages = append(stages, pipeline.Stage{Name: name, Mount: m, Unit: unit})
	}

	add(StageSecurity, pipeline.Global(), u.Security)
	add(StageCompression, pipeline.Global(), u.Compression)

	if mode.IsProduction() && site.ServiceWorker.Enabled {
		if site.ServiceWorker.FileName == "" {
			errs = append(errs, cfg.Missing("serviceWorker.fileName"))
		}
		if site.ServiceWorker.OfflinePageFileName == "" {
			errs = append(errs, cfg.Missing("serviceWorker.offlinePageFileName"))
		}
		add(StageServiceWorker, pipeline.Exact(serviceWorkerPath(site), http.MethodGet), u.ServiceWorker)
		add(StageOfflinePage, pipeline.Exact(offlinePagePath(site), http.MethodGet), u.OfflinePage)
	}

	if mode.IsDevelopment() && site.ClientDevProxy {
		add(StageDevProxy, pipeline.Global(), u.DevProxy)
	}

	if mode.IsProduction() && site.EnforceHTTPS {
		add(StageEnforceHTTPS, pipeline.Global(), u.EnforceHTTPS)
	}

	add(StageClientBundle, pipeline.Prefix(site.ClientWebPath), u.ClientBundle)
	add(StagePublicAssets, pipeline.Global(), u.PublicAssets)

	if site.PasswordProtect != "" {
		add(StageBasicAuth, pipeline.Global(), u.BasicAuth)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return pipeline.NewSequence(stages...)
}

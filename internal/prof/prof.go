// Package prof pushes continuous profiles to Pyroscope and labels request
// samples for the site listener.
package prof

import (
	"context"
	"maps"
	"net/http"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// profileTypes adds mutex and block profiles to the agent defaults; both
// need their runtime rates set to produce data.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string

	// Tags are attached to every profile, on top of source=go-agent.
	Tags map[string]string

	ProfileMutexFraction int
	BlockProfileRate     int
}

// config turns opts into an agent config, rejecting incomplete options.
func config(opts Options) (pyroscope.Config, error) {
	if opts.ServerAddress == "" {
		return pyroscope.Config{}, xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
	}
	if opts.AppName == "" {
		return pyroscope.Config{}, xerrors.New("application name is required")
	}
	tags := map[string]string{"source": "go-agent"}
	maps.Copy(tags, opts.Tags)

	return pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            tags,
		ProfileTypes:    profileTypes,
	}, nil
}

// Start begins pushing profiles. The returned stop func is always safe to
// call, including after an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}

	pc, err := config(opts)
	if err != nil {
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	kv := []any{"server_address", pc.ServerAddress, "app_name", pc.ApplicationName}
	profiler, err := pyroscope.Start(pc)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", kv...)
		return noop, err
	}
	L.Info(ctx, "pyroscope started", kv...)

	return func() {
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "pyroscope stop", append(kv, "error", err.Error())...)
			return
		}
		L.Info(context.Background(), "pyroscope stopped", kv...)
	}, nil
}

// Middleware labels CPU samples taken while serving a request with its
// method, so flame graphs split page renders from asset traffic.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pyroscope.TagWrapper(r.Context(), pyroscope.Labels("http_method", r.Method), func(ctx context.Context) {
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

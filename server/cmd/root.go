package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/llm-operator/tls-gateway/common/pkg/jwt"
	"github.com/llm-operator/tls-gateway/server/internal/admin"
	"github.com/llm-operator/tls-gateway/server/internal/certmanager"
	"github.com/llm-operator/tls-gateway/server/internal/config"
	"github.com/llm-operator/tls-gateway/server/internal/proxy"
	"github.com/llm-operator/tls-gateway/server/internal/server"
	"github.com/llm-operator/tls-gateway/server/internal/sessioncache"
	"github.com/llm-operator/tls-gateway/server/internal/stats"
	"github.com/llm-operator/tls-gateway/server/internal/ticket"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var rootCmd = &cobra.Command{
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		c, err := config.Parse(configPath)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate config: %s", err)
		}

		return run(cmd.Context(), c)
	},
}

func run(ctx context.Context, c *config.Config) error {
	// Session ticket key seeds, shared by every VIP.
	var seeds *ticket.Seeds
	if ts := c.TicketSeeds; ts != nil {
		s, err := ticket.ParseSeedsFile(ts.File)
		if err != nil {
			return fmt.Errorf("parse ticket seeds: %s", err)
		}
		seeds = s
	}

	// Shared storage so a session cached by one certificate context can
	// resume on a sibling.
	external := sessioncache.NewMemoryProvider()

	var (
		vips     []admin.VIP
		managers []*certmanager.Manager
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, v := range c.VIPs {
		mgr := certmanager.NewManager(certmanager.Opts{
			VIPName: v.Name,
			Strict:  v.Strict,
		})
		sink := stats.NewSink(v.Name)
		mgr.SetStatsSink(sink)
		mgr.SetClientHelloStatsSink(sink)
		managers = append(managers, mgr)

		addr := fmt.Sprintf(":%d", v.Port)
		cacheOpts := sessioncache.Options{
			Enabled:  v.SessionCache.Enabled,
			Capacity: v.SessionCache.Capacity,
		}

		for _, cert := range v.Certificates {
			cfg, err := certmanager.LoadCertConfig(cert.CertFile, cert.KeyFile)
			if err != nil {
				return fmt.Errorf("vip %s: %s", v.Name, err)
			}
			cfg.IsDefault = cert.Default
			cfg.Overwrite = cert.Overwrite
			cfg.DisableSessionTickets = cert.DisableSessionTickets

			// A per-name registration error leaves the valid names of the
			// certificate installed; serve with what we have.
			if err := mgr.AddCertificate(cfg, cacheOpts, seeds, addr, external); err != nil {
				klog.Errorf("could not register every domain of %q: %s", cert.CertFile, err)
			}
		}

		httpProxy := proxy.NewHTTPProxy(v.Upstream)
		upgradeProxy := proxy.NewUpgradeProxy(v.Upstream)

		f := server.NewFrontend(server.Opts{
			Name:         v.Name,
			Manager:      mgr,
			HTTPProxy:    httpProxy,
			UpgradeProxy: upgradeProxy,
		})

		g.Go(func() error {
			return server.Run(ctx, server.RunOpts{
				Frontend: f,
				Addr:     addr,
			})
		})

		vips = append(vips, admin.VIP{
			Name:    v.Name,
			Manager: mgr,
			Proxies: []proxy.Proxy{httpProxy, upgradeProxy},
		})
	}

	// Internal admin HTTP server.
	validator, err := newValidator(ctx, c.Admin.Auth)
	if err != nil {
		return err
	}
	adminS := admin.NewServer(fmt.Sprintf(":%d", c.Admin.Port), vips, validator)
	g.Go(adminS.Run)

	// Seed file watcher.
	if ts := c.TicketSeeds; ts != nil && ts.Watch {
		w := ticket.NewWatcher(ts.File, func(seeds *ticket.Seeds) error {
			for _, mgr := range managers {
				if err := mgr.ReloadTicketKeys(seeds.Old, seeds.Current, seeds.New); err != nil {
					// Ensure we fail fast rather than keep serving with keys
					// that can no longer be rotated.
					klog.Fatalf("run: rotate ticket keys: %s", err)
				}
			}
			return nil
		})
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

// newValidator builds the bearer token validator for the admin server, or
// nil when authentication is not configured.
func newValidator(ctx context.Context, a *config.AdminAuth) (jwt.Validator, error) {
	if a == nil {
		return nil, nil
	}
	if a.PublicKeyPath != "" {
		v, err := jwt.NewStaticValidator(a.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("new static validator: %s", err)
		}
		return v, nil
	}

	v, err := jwt.NewJWKSValidator(ctx, a.JWKSURL, jwt.JWKSValidatorOpts{})
	if err != nil {
		return nil, fmt.Errorf("new jwks validator: %s", err)
	}
	return v, nil
}

func init() {
	// Add verbosity flag from klog.
	klog.InitFlags(flag.CommandLine)
	v := flag.CommandLine.Lookup("v")
	pflag.CommandLine.AddGoFlag(v)

	rootCmd.Flags().String("config", "", "Path to configuration file")
	_ = rootCmd.MarkFlagRequired("config")
	rootCmd.SilenceUsage = true
}

package certmanager

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/llm-operator/tls-gateway/server/internal/sessioncache"
	"github.com/llm-operator/tls-gateway/server/internal/ticket"
	"k8s.io/klog/v2"
)

// CertificateContext binds one certificate to its TLS context and to the
// per-certificate collaborators the manager owns for it.
type CertificateContext struct {
	// Config is the TLS context presented during handshakes that resolve
	// to this certificate.
	Config *tls.Config

	// Crypto is the certificate family the context was classified into.
	Crypto CertCrypto

	cache  *sessioncache.Manager // nil when session caching is disabled
	ticket ticketReloader        // nil when session tickets are disabled
}

// ticketReloader is the slice of the ticket key manager the certificate
// manager drives during rotation.
type ticketReloader interface {
	Reload(old, current, new []string) error
}

// CertConfig describes one certificate to install. The key pair and the
// domain names it covers are resolved by the loader; the manager consumes
// them as-is.
type CertConfig struct {
	// Certificate is the loaded key pair, with a parsed leaf when
	// available.
	Certificate *tls.Certificate

	// Domains are the names the certificate is valid for (common name and
	// subject alternative names, wildcards included).
	Domains []string

	// IsDefault marks the context as the fallback for handshakes with a
	// missing or unmatched server name.
	IsDefault bool

	// Overwrite replaces existing index entries instead of keeping the
	// first registration. Set this during a reconfiguration pass where
	// later entries must win.
	Overwrite bool

	// DisableSessionTickets skips the ticket key manager for this
	// context.
	DisableSessionTickets bool
}

// AsyncCryptoEnabler is an extension point for offloading handshake
// crypto on a constructed TLS context. The zero configuration uses a
// no-op implementation.
type AsyncCryptoEnabler interface {
	Enable(cfg *tls.Config) error
}

type noopAsyncCrypto struct{}

func (noopAsyncCrypto) Enable(*tls.Config) error { return nil }

// StatsSink receives certificate lifecycle events.
type StatsSink interface {
	ContextAdded()
	TicketRotation(failed bool)
}

// ClientHelloStatsSink receives handshake-time SNI resolution events.
type ClientHelloStatsSink interface {
	SNIMatch()
	SNIMiss()
	SNIAbsent()
}

// Opts are options for a Manager.
type Opts struct {
	// VIPName names the endpoint the manager serves, for log messages.
	VIPName string

	// Strict escalates any ticket key reload failure to an error for the
	// whole reload call, instead of skipping the failed context.
	Strict bool

	// AsyncCrypto overrides the crypto offload strategy.
	AsyncCrypto AsyncCryptoEnabler
}

// Manager owns the certificate contexts for one VIP and resolves the
// context to present for a server name.
//
// All mutation and all lookup is expected to run on the goroutine that
// owns the manager. Per-VIP managers are replicated rather than shared
// across acceptors, so the handshake-time lookup path takes no locks.
type Manager struct {
	vipName string
	strict  bool
	async   AsyncCryptoEnabler

	// ctxs owns every installed context, in registration order. The index
	// and the default context only reference members of this slice.
	ctxs  []*CertificateContext
	index domainIndex

	defaultCtx      *CertificateContext
	defaultDomain   string
	defaultExplicit bool

	stats      StatsSink
	helloStats ClientHelloStatsSink
}

// NewManager returns a new Manager.
func NewManager(opts Opts) *Manager {
	async := opts.AsyncCrypto
	if async == nil {
		async = noopAsyncCrypto{}
	}
	return &Manager{
		vipName: opts.VIPName,
		strict:  opts.Strict,
		async:   async,
		index:   newDomainIndex(),
	}
}

// SetStatsSink wires the lifecycle stats collaborator.
func (m *Manager) SetStatsSink(s StatsSink) {
	m.stats = s
}

// SetClientHelloStatsSink wires the SNI stats collaborator.
func (m *Manager) SetClientHelloStatsSink(s ClientHelloStatsSink) {
	m.helloStats = s
}

// AddCertificate builds a certificate context from cfg and registers it
// under every domain name the certificate covers.
//
// Context construction is all-or-nothing: on a construction failure
// nothing is registered and the manager is unchanged. Name registration
// allows partial success: a malformed name aborts that name only and the
// per-name errors are joined into the returned error, while the valid
// names stay installed. Duplicate names are non-fatal; the first
// registration wins unless cfg.Overwrite is set.
func (m *Manager) AddCertificate(cfg CertConfig, cacheOpts sessioncache.Options, seeds *ticket.Seeds, vipAddress string, external sessioncache.Provider) error {
	if cfg.Certificate == nil || len(cfg.Certificate.Certificate) == 0 {
		return fmt.Errorf("certmanager: add certificate: no certificate material")
	}

	leaf := cfg.Certificate.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cfg.Certificate.Certificate[0])
		if err != nil {
			return fmt.Errorf("certmanager: add certificate: parse leaf: %s", err)
		}
	}

	ctx := &CertificateContext{
		Crypto: ClassifyCertificate(leaf),
		Config: &tls.Config{
			Certificates: []tls.Certificate{*cfg.Certificate},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"h2", "http/1.1"},
		},
	}

	if cacheOpts.Enabled {
		cache, err := sessioncache.NewManager(cacheOpts, external)
		if err != nil {
			return fmt.Errorf("certmanager: add certificate: session cache: %s", err)
		}
		// Stateful resumption takes precedence over the rotating ticket
		// keys on this context.
		ctx.Config.WrapSession = cache.WrapSession
		ctx.Config.UnwrapSession = cache.UnwrapSession
		ctx.cache = cache
	}

	if seeds != nil && !cfg.DisableSessionTickets {
		tm, err := ticket.NewKeyManager(ctx.Config, *seeds)
		if err != nil {
			if ctx.cache != nil {
				ctx.cache.Close()
			}
			return fmt.Errorf("certmanager: add certificate: ticket keys: %s", err)
		}
		ctx.ticket = tm
	}

	if err := m.async.Enable(ctx.Config); err != nil {
		if ctx.cache != nil {
			ctx.cache.Close()
		}
		return fmt.Errorf("certmanager: add certificate: enable async crypto: %s", err)
	}

	// The context is fully constructed; registration below is per-name
	// and may partially succeed.
	m.ctxs = append(m.ctxs, ctx)
	if m.stats != nil {
		m.stats.ContextAdded()
	}

	var errs []error
	var firstName string
	for _, dn := range cfg.Domains {
		added, err := m.index.insert(dn, ctx.Crypto, ctx, cfg.Overwrite)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !added {
			klog.Infof("duplicate domain name %q for VIP %s (%s); keeping the first registration", dn, m.vipName, vipAddress)
			continue
		}
		if firstName == "" {
			firstName = dn
		}
		klog.V(2).Infof("registered domain name %q for VIP %s (%s); crypto=%s", dn, m.vipName, vipAddress, ctx.Crypto)
	}

	// Default-context transition: the first installed context becomes the
	// default until the first explicitly flagged one claims it. There is
	// no transition back while the manager is alive. A context that
	// registered no name at all never becomes the default; DefaultDomain
	// must name a domain the default context actually serves.
	if firstName != "" && (m.defaultCtx == nil || (cfg.IsDefault && !m.defaultExplicit)) {
		m.defaultCtx = ctx
		m.defaultDomain = firstName
		m.defaultExplicit = cfg.IsDefault
		klog.Infof("default certificate for VIP %s (%s): domain=%q", m.vipName, vipAddress, firstName)
	}

	if len(errs) > 0 {
		return fmt.Errorf("certmanager: add certificate for VIP %s: %s", m.vipName, errors.Join(errs...))
	}
	return nil
}

// InsertDomainName registers an already-installed TLS context under an
// additional domain name. The first registration wins on duplicates.
func (m *Manager) InsertDomainName(name string, cfg *tls.Config, crypto CertCrypto) error {
	ctx := m.findContext(cfg)
	if ctx == nil {
		return fmt.Errorf("certmanager: insert domain name %q: context is not registered with this manager", name)
	}

	added, err := m.index.insert(name, crypto, ctx, false)
	if err != nil {
		return err
	}
	if !added {
		klog.Infof("duplicate domain name %q for VIP %s; keeping the first registration", name, m.vipName)
	}
	return nil
}

// Lookup resolves the TLS context for the server name, probing the exact
// name first and then the one-level-up wildcard suffix. A nil return is a
// miss, not an error; the caller decides between the default context and
// failing the handshake.
func (m *Manager) Lookup(serverName string, crypto CertCrypto) *tls.Config {
	if ctx := m.index.lookup(serverName, crypto); ctx != nil {
		if m.helloStats != nil {
			m.helloStats.SNIMatch()
		}
		return ctx.Config
	}
	if m.helloStats != nil {
		m.helloStats.SNIMiss()
	}
	return nil
}

// LookupExact resolves the TLS context registered under exactly the given
// name.
func (m *Manager) LookupExact(name string, crypto CertCrypto) *tls.Config {
	if ctx := m.index.lookupExact(name, crypto); ctx != nil {
		return ctx.Config
	}
	return nil
}

// LookupSuffix resolves the TLS context registered under the one-level-up
// wildcard suffix of the given name.
func (m *Manager) LookupSuffix(name string, crypto CertCrypto) *tls.Config {
	if ctx := m.index.lookupSuffix(name, crypto); ctx != nil {
		return ctx.Config
	}
	return nil
}

// DefaultContext returns the fallback TLS context, or nil before any
// registration.
func (m *Manager) DefaultContext() *tls.Config {
	if m.defaultCtx == nil {
		return nil
	}
	return m.defaultCtx.Config
}

// DefaultDomain returns the domain name the default context was
// registered under, for diagnostics.
func (m *Manager) DefaultDomain() string {
	return m.defaultDomain
}

// AbsentSNI records a handshake that carried no server name.
func (m *Manager) AbsentSNI() {
	if m.helloStats != nil {
		m.helloStats.SNIAbsent()
	}
}

// ReloadTicketKeys applies the seed sets to every installed ticket key
// manager, in registration order. Contexts without ticket support are
// skipped. The rotation is not atomic across contexts: a handshake racing
// the reload may hit a rotated and a not-yet-rotated context, which is
// fine because the previous "current" keys stay valid for decryption
// during the overlap window.
//
// In strict mode the first failure aborts the call; otherwise failures
// are logged and the remaining contexts still rotate.
func (m *Manager) ReloadTicketKeys(old, current, new []string) error {
	for i, ctx := range m.ctxs {
		if ctx.ticket == nil {
			continue
		}
		if err := ctx.ticket.Reload(old, current, new); err != nil {
			if m.stats != nil {
				m.stats.TicketRotation(true)
			}
			if m.strict {
				return fmt.Errorf("certmanager: reload ticket keys for VIP %s: context %d: %s", m.vipName, i, err)
			}
			klog.Errorf("failed to rotate ticket keys for VIP %s, context %d; skipping: %s", m.vipName, i, err)
			continue
		}
		if m.stats != nil {
			m.stats.TicketRotation(false)
		}
	}
	return nil
}

// Status is a point-in-time summary of a Manager.
type Status struct {
	VIP            string `json:"vip"`
	Contexts       int    `json:"contexts"`
	Domains        int    `json:"domains"`
	DefaultDomain  string `json:"default_domain,omitempty"`
	TicketContexts int    `json:"ticket_contexts"`
}

// Status returns the current status of the manager.
func (m *Manager) Status() Status {
	s := Status{
		VIP:           m.vipName,
		Contexts:      len(m.ctxs),
		Domains:       m.index.len(),
		DefaultDomain: m.defaultDomain,
	}
	for _, ctx := range m.ctxs {
		if ctx.ticket != nil {
			s.TicketContexts++
		}
	}
	return s
}

// Close tears down every owned context and its collaborators. The index
// is cleared first so that no entry outlives the registry it points into.
func (m *Manager) Close() {
	m.index = newDomainIndex()
	m.defaultCtx = nil
	m.defaultDomain = ""

	for _, ctx := range m.ctxs {
		if ctx.cache != nil {
			ctx.cache.Close()
		}
	}
	m.ctxs = nil
}

// findContext returns the owned context whose TLS config is cfg, or nil.
func (m *Manager) findContext(cfg *tls.Config) *CertificateContext {
	for _, ctx := range m.ctxs {
		if ctx.Config == cfg {
			return ctx
		}
	}
	return nil
}

// Package dns discovers gossip seeds from DNS, typically the SRV records or
// A records of a Kubernetes headless service.
package dns

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"

    "github.com/amirimatin/go-leaderelection/pkg/discovery"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
)

// Options configures DNS discovery.
type Options struct {
    // Names are SRV names ("_gossip._tcp.svc.example"), hostnames or literal
    // host:port seeds.
    Names []string

    // Port is used for hostnames, which carry no port. Defaults to 7946.
    Port int

    // Refresh is how long results are cached. Defaults to 5s.
    Refresh time.Duration

    Resolver *net.Resolver
    Logger   hclog.Logger
}

func (o *Options) Validate() error {
    if len(o.Names) == 0 {
        return errors.New("dns discovery: no names")
    }
    if o.Port == 0 {
        o.Port = 7946
    }
    if o.Port < 0 || o.Port > 65535 {
        return fmt.Errorf("dns discovery: invalid port %d", o.Port)
    }
    if o.Refresh <= 0 {
        o.Refresh = 5 * time.Second
    }
    if o.Resolver == nil {
        o.Resolver = net.DefaultResolver
    }
    return nil
}

type impl struct {
    opts Options
    log  hclog.Logger

    mu    sync.Mutex
    last  time.Time
    cache []string
}

func New(opts Options) (discovery.Discovery, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    return &impl{opts: opts, log: logutil.Named(opts.Logger, "discovery.dns")}, nil
}

// Seeds resolves all names, caching a non-empty result for Refresh. It only
// fails when every name failed to resolve.
func (d *impl) Seeds(ctx context.Context) ([]string, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.last) < d.opts.Refresh {
        return append([]string(nil), d.cache...), nil
    }
    out, err := d.resolveAll(ctx)
    if err != nil {
        return nil, err
    }
    d.cache = out
    d.last = time.Now()
    return append([]string(nil), out...), nil
}

func (d *impl) resolveAll(ctx context.Context) ([]string, error) {
    seen := make(map[string]struct{})
    var (
        out  []string
        errs []error
    )
    add := func(hps []string) {
        for _, hp := range hps {
            if _, ok := seen[hp]; !ok {
                seen[hp] = struct{}{}
                out = append(out, hp)
            }
        }
    }
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" {
            continue
        }
        if isHostPort(name) {
            add([]string{name})
            continue
        }
        if svc, proto, domain, ok := parseSRVName(name); ok {
            hps, err := d.lookupSRV(ctx, svc, proto, domain)
            if err == nil && len(hps) > 0 {
                add(hps)
                continue
            }
            d.log.Debug("srv lookup failed, trying host lookup", "name", name, "error", err)
        }
        hps, err := d.lookupHost(ctx, name)
        if err != nil {
            errs = append(errs, err)
            continue
        }
        add(hps)
    }
    if len(out) == 0 && len(errs) > 0 {
        return nil, fmt.Errorf("dns discovery: %w", errors.Join(errs...))
    }
    sort.Strings(out)
    return out, nil
}

func (d *impl) lookupSRV(ctx context.Context, svc, proto, domain string) ([]string, error) {
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        return nil, err
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out, nil
}

func (d *impl) lookupHost(ctx context.Context, host string) ([]string, error) {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        return nil, err
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port)))
    }
    return out, nil
}

func isHostPort(s string) bool {
    if strings.HasPrefix(s, "_") {
        return false
    }
    _, port, err := net.SplitHostPort(s)
    return err == nil && port != ""
}

// parseSRVName splits "_service._proto.domain".
func parseSRVName(fqdn string) (service, proto, domain string, ok bool) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") {
        return "", "", "", false
    }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2], true
}

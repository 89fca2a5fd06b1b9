// Package bootstrap assembles a node.Node from flat configuration.
package bootstrap

import (
    "context"
    "fmt"
    "time"

    "github.com/hashicorp/go-hclog"
    "k8s.io/client-go/kubernetes"
    "k8s.io/client-go/tools/clientcmd"

    kubecons "github.com/amirimatin/go-leaderelection/pkg/consensus/kubernetes"
    raftcons "github.com/amirimatin/go-leaderelection/pkg/consensus/raft"
    "github.com/amirimatin/go-leaderelection/pkg/discovery"
    dDNS "github.com/amirimatin/go-leaderelection/pkg/discovery/dns"
    dStatic "github.com/amirimatin/go-leaderelection/pkg/discovery/static"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/membership"
    ml "github.com/amirimatin/go-leaderelection/pkg/membership/memberlist"
    "github.com/amirimatin/go-leaderelection/pkg/node"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-leaderelection/pkg/transport/grpc"
    "github.com/amirimatin/go-leaderelection/pkg/transport/httpjson"
)

const (
    BackendRaft       = "raft"
    BackendKubernetes = "kubernetes"
)

// Config is the flat configuration of one node.
type Config struct {
    NodeID string
    // Backend is "raft" (default) or "kubernetes".
    Backend string

    // Raft backend. RaftAddr must be reachable by peers since it is gossiped.
    RaftAddr  string
    DataDir   string // empty means in-memory stores
    Bootstrap bool   // form a single-node cluster on start

    // Membership (raft backend only). Empty MemBind disables gossip.
    MemBind string
    MemAdv  string

    // Seeds: DiscoveryKind "static" (default) uses SeedsCSV, "dns" uses
    // DNSNamesCSV and DNSPort.
    DiscoveryKind string
    SeedsCSV      string
    DNSNamesCSV   string
    DNSPort       int
    DiscRefresh   time.Duration

    // Kubernetes backend. KubeClient wins over Kubeconfig; with neither the
    // in-cluster config is used.
    KubeClient kubernetes.Interface
    Kubeconfig string
    Namespace  string
    LeaseName  string

    // Management API. Empty MgmtAddr disables it.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    Logger            hclog.Logger
    FatalErrorHandler le.FatalErrorHandler
}

func (c *Config) Validate() error {
    if c.NodeID == "" {
        return fmt.Errorf("bootstrap: empty NodeID")
    }
    if c.Backend == "" {
        c.Backend = BackendRaft
    }
    switch c.Backend {
    case BackendRaft, BackendKubernetes:
    default:
        return fmt.Errorf("bootstrap: unknown backend %q", c.Backend)
    }
    switch c.MgmtProto {
    case "":
        c.MgmtProto = "http"
    case "http", "grpc":
    default:
        return fmt.Errorf("bootstrap: unknown management protocol %q", c.MgmtProto)
    }
    switch c.DiscoveryKind {
    case "":
        c.DiscoveryKind = "static"
    case "static", "dns":
    default:
        return fmt.Errorf("bootstrap: unknown discovery kind %q", c.DiscoveryKind)
    }
    if c.Logger == nil {
        c.Logger = logutil.New("leaderelection")
    }
    return nil
}

// Build assembles a node without starting it.
func Build(cfg Config) (*node.Node, error) {
    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    opts := node.Options{
        NodeID:            cfg.NodeID,
        Logger:            cfg.Logger,
        FatalErrorHandler: cfg.FatalErrorHandler,
    }
    opts.RPCServer, opts.RPCClient = buildManagement(cfg)

    switch cfg.Backend {
    case BackendKubernetes:
        b, err := buildKubernetes(cfg)
        if err != nil {
            return nil, err
        }
        opts.Backend = b
    default:
        r, err := raftcons.New(raftcons.Options{
            NodeID:    cfg.NodeID,
            Logger:    cfg.Logger,
            BindAddr:  cfg.RaftAddr,
            DataDir:   cfg.DataDir,
            Bootstrap: cfg.Bootstrap,
        })
        if err != nil {
            return nil, err
        }
        opts.Consensus = r
        opts.RaftAddr = cfg.RaftAddr
        if cfg.MemBind != "" {
            mem, err := ml.New(ml.Options{
                NodeID:    cfg.NodeID,
                Bind:      cfg.MemBind,
                Advertise: cfg.MemAdv,
                Logger:    cfg.Logger,
                Meta: map[string]string{
                    membership.MetaRaftAddr: cfg.RaftAddr,
                    membership.MetaMgmtAddr: cfg.MgmtAddr,
                },
            })
            if err != nil {
                return nil, err
            }
            opts.Membership = mem
            disc, err := buildDiscovery(cfg)
            if err != nil {
                return nil, err
            }
            opts.Discovery = disc
        }
    }
    return node.New(opts)
}

// Run builds and starts a node. The caller closes it.
func Run(ctx context.Context, cfg Config) (*node.Node, error) {
    n, err := Build(cfg)
    if err != nil {
        return nil, err
    }
    if err := n.Start(ctx); err != nil {
        _ = n.Close()
        return nil, err
    }
    return n, nil
}

func buildManagement(cfg Config) (transport.RPCServer, transport.RPCClient) {
    var srv transport.RPCServer
    switch cfg.MgmtProto {
    case "grpc":
        if cfg.MgmtAddr != "" {
            srv = mgmtgrpc.NewServer(cfg.MgmtAddr, cfg.Logger)
        }
        return srv, mgmtgrpc.NewClient(3 * time.Second)
    default:
        if cfg.MgmtAddr != "" {
            srv = httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        }
        return srv, httpjson.NewClient(3 * time.Second)
    }
}

func buildDiscovery(cfg Config) (discovery.Discovery, error) {
    if cfg.DiscoveryKind == "dns" {
        return dDNS.New(dDNS.Options{
            Names:   dStatic.Parse(cfg.DNSNamesCSV),
            Port:    cfg.DNSPort,
            Refresh: cfg.DiscRefresh,
            Logger:  cfg.Logger,
        })
    }
    return dStatic.New(dStatic.Parse(cfg.SeedsCSV)...), nil
}

func buildKubernetes(cfg Config) (*kubecons.Backend, error) {
    client := cfg.KubeClient
    if client == nil {
        restCfg, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
        if err != nil {
            return nil, fmt.Errorf("bootstrap: kubernetes config: %w", err)
        }
        cs, err := kubernetes.NewForConfig(restCfg)
        if err != nil {
            return nil, fmt.Errorf("bootstrap: kubernetes client: %w", err)
        }
        client = cs
    }
    return kubecons.New(kubecons.Options{
        Client:    client,
        Namespace: cfg.Namespace,
        LeaseName: cfg.LeaseName,
        Identity:  cfg.NodeID,
        Logger:    cfg.Logger,
    })
}

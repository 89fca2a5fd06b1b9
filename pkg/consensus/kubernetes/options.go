package kubecons

import (
    "fmt"
    "os"
    "time"

    "github.com/hashicorp/go-hclog"
    "k8s.io/client-go/kubernetes"
)

// Options configure the Kubernetes coordination backend.
type Options struct {
    Client    kubernetes.Interface
    Namespace string
    // LeaseName is the coordination.k8s.io Lease used as the leader lock.
    LeaseName string
    // ConfigMapName holds the published leader information. Defaults to
    // LeaseName + "-leaders".
    ConfigMapName string
    // Identity of this process in the Lease. Defaults to the hostname.
    Identity string

    LeaseDuration time.Duration
    RenewDeadline time.Duration
    RetryPeriod   time.Duration
    // WriteTimeout bounds one ConfigMap read-modify-write.
    WriteTimeout time.Duration

    Logger hclog.Logger
}

func (o *Options) Validate() error {
    if o.Client == nil {
        return fmt.Errorf("kubecons: nil Client")
    }
    if o.Namespace == "" || o.LeaseName == "" {
        return fmt.Errorf("kubecons: Namespace and LeaseName are required")
    }
    if o.ConfigMapName == "" {
        o.ConfigMapName = o.LeaseName + "-leaders"
    }
    if o.Identity == "" {
        host, err := os.Hostname()
        if err != nil {
            return fmt.Errorf("kubecons: empty Identity and no hostname: %w", err)
        }
        o.Identity = host
    }
    if o.LeaseDuration == 0 { o.LeaseDuration = 15 * time.Second }
    if o.RenewDeadline == 0 { o.RenewDeadline = 10 * time.Second }
    if o.RetryPeriod == 0 { o.RetryPeriod = 2 * time.Second }
    if o.WriteTimeout == 0 { o.WriteTimeout = o.RenewDeadline }
    if o.LeaseDuration <= o.RenewDeadline {
        return fmt.Errorf("kubecons: LeaseDuration must exceed RenewDeadline")
    }
    return nil
}

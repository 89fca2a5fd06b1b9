package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"

    lecli "github.com/amirimatin/go-leaderelection/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "leaderctl",
        Short:         "leader election node and management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    lecli.AddAll(root)
    return root
}

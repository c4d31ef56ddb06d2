// Command confsync-demo wires a Manager together for one namespace and
// prints every change event it observes, the way the teacher's cmd/
// entries each wrap one subsystem behind a small cobra CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/client"
	"github.com/vitaliisemenov/confsync/internal/config"
	"github.com/vitaliisemenov/confsync/pkg/logger"
)

var (
	configPath string
	namespace  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "confsync-demo",
		Short: "Watch a configuration namespace and print every change event",
		RunE:  runWatch,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a confsync YAML config file")
	root.PersistentFlags().StringVarP(&namespace, "namespace", "n", "application", "namespace to watch")

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("confsync-demo dev")
		},
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	opts, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.AppID == "" {
		return fmt.Errorf("app_id must be set (via --config or CONFSYNC_APP_ID)")
	}

	log := logger.New(logger.Config{
		Level:      opts.Log.Level,
		Format:     opts.Log.Format,
		Output:     opts.Log.Output,
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSizeMB,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAgeDays,
		Compress:   opts.Log.Compress,
	})

	mgr := client.NewManager(client.Config{
		AppID:         opts.AppID,
		Cluster:       opts.Cluster,
		LocalIP:       opts.LocalIP,
		DataCenter:    opts.DataCenter,
		MetaServerURL: opts.MetaServerURL,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	defer mgr.Stop()

	repo, err := mgr.Watch(ctx, namespace)
	if err != nil {
		return fmt.Errorf("watch namespace %q: %w", namespace, err)
	}

	repo.AddListener(printingListener{namespace: namespace})

	if snap := repo.GetConfig(); snap != nil {
		log.Info("initial snapshot loaded", "namespace", namespace, "releaseKey", snap.ReleaseKey, "keys", len(snap.Configurations))
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

type printingListener struct {
	namespace string
}

func (p printingListener) OnChange(event confsync.ChangeEvent) {
	for _, change := range event.Changes {
		fmt.Printf("[%s] %s %s: %q -> %q\n", p.namespace, change.ChangeType, change.Key, change.OldValue, change.NewValue)
	}
}

func (p printingListener) OnSyncError(namespace string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] sync error: %v\n", namespace, err)
}

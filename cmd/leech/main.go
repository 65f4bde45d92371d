// Command leech runs the crawl decider, the activity worker and the HTTP API
// against Amazon SWF, or all of them in one process against the in-memory
// workflow service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KamdynS/leech/adapters/memory"
	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/flows"
)

var (
	settings  config.Settings
	storeKind string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "leech",
	Short:         "Crawl remote graphs into the local graph store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var deciderCmd = &cobra.Command{
	Use:   "decider",
	Short: "Poll decision tasks and run the crawl flows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, err := newSWF(ctx)
		if err != nil {
			return err
		}
		d, err := newDecider(svc, svc, newSource())
		if err != nil {
			return err
		}
		return runUntilSignal(ctx, d)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll activity tasks and run the crawl activities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, err := newSWF(ctx)
		if err != nil {
			return err
		}
		acts, closeFn, err := newActivities(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		w, err := newWorker(svc, acts)
		if err != nil {
			return err
		}
		return runUntilSignal(ctx, w)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API that starts crawls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, err := newSWF(ctx)
		if err != nil {
			return err
		}
		return serve(ctx, svc)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <identifier_stem>",
	Short: "Start a crawl of one identifier stem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newSWF(ctx)
		if err != nil {
			return err
		}
		doc, err := newSource().Fetch(ctx, settings.Domain)
		if err != nil {
			return err
		}
		input, err := engine.Wrap(flows.CrawlArgs{IdentifierStem: args[0]})
		if err != nil {
			return err
		}
		id := uuid.NewString()
		runID, err := svc.StartExecution(ctx, engine.StartRequest{
			WorkflowID: id,
			FlowType:   flows.CommandFungi,
			Version:    doc.Versions.Workflow(flows.CommandFungi),
			Input:      input,
			TaskList:   settings.DecisionTaskList,
			LambdaRole: settings.LambdaRole,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, runID)
		return nil
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run the decider, worker and API in one process on the in-memory service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := memory.NewService(settings.Domain)
		acts, closeFn, err := newActivities(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		d, err := newDecider(svc, svc, newSource())
		if err != nil {
			return err
		}
		w, err := newWorker(svc, acts)
		if err != nil {
			return err
		}
		for _, r := range []runnable{d, w} {
			if err := r.Start(ctx); err != nil {
				return err
			}
		}
		go fireTimers(ctx, svc)

		err = serve(ctx, svc)
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, r := range []runnable{d, w} {
			if serr := r.Stop(shutdown); serr != nil {
				log.Printf("[Leech] %v", serr)
			}
		}
		return err
	},
}

func init() {
	var err error
	if settings, err = config.FromEnv(); err != nil {
		log.Fatalf("[Leech] Reading settings: %v", err)
	}
	rootCmd.PersistentFlags().StringVar(&settings.Domain, "domain", settings.Domain, "SWF domain")
	rootCmd.PersistentFlags().StringVar(&settings.Region, "region", settings.Region, "AWS region")
	rootCmd.PersistentFlags().StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "versions and config YAML; {domain} is replaced with the domain")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "graph store: dynamo, redis or memory (default: redis when REDIS_ADDR is set, else dynamo)")
	rootCmd.PersistentFlags().StringVar(&settings.RemotePath, "remote", settings.RemotePath, "YAML snapshot of the extraction remote")
	rootCmd.PersistentFlags().IntVar(&settings.Pollers, "pollers", settings.Pollers, "poll loops per decider or worker")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log decision rounds and activity results")
	serveCmd.Flags().IntVar(&settings.HTTPPort, "port", settings.HTTPPort, "HTTP port")
	localCmd.Flags().IntVar(&settings.HTTPPort, "port", settings.HTTPPort, "HTTP port")

	rootCmd.AddCommand(deciderCmd, workerCmd, serveCmd, startCmd, localCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

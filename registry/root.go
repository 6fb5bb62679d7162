package registry

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aerugo/aerugo/configuration"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ReapUploadsCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// RootCmd is the main command for the 'aerugo' binary.
var RootCmd = &cobra.Command{
	Use:   "aerugo",
	Short: "`aerugo`",
	Long:  "`aerugo`",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

// ServeCmd is a cobra command for running the registry.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` stores and distributes container images",
	Long:  "`serve` stores and distributes container images",
	Run: func(cmd *cobra.Command, args []string) {
		// setup context
		ctx := dcontext.Background()

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		registry, err := NewRegistry(ctx, config)
		if err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}

		if err = registry.Serve(); err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}
	},
}

// ReapUploadsCmd removes blob upload sessions older than the configured
// purge age, along with their stored chunks.
var ReapUploadsCmd = &cobra.Command{
	Use:   "reap-uploads <config>",
	Short: "`reap-uploads` deletes stale blob upload sessions",
	Long:  "`reap-uploads` deletes stale blob upload sessions",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := dcontext.Background()

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		registry, err := NewRegistry(ctx, config)
		if err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}

		if err := registry.ReapUploads(ctx); err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}
	},
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("REGISTRY_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("REGISTRY_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", configurationPath, err)
	}

	return config, nil
}

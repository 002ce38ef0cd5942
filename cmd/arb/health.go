package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/groblegark/arbiter/internal/client"
	"github.com/groblegark/arbiter/internal/server"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the arbiter service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		useGRPC, _ := cmd.Flags().GetBool("grpc")
		follow, _ := cmd.Flags().GetBool("follow")
		if useGRPC || follow {
			return grpcHealth(follow)
		}

		st, err := arbClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(st); err != nil {
				return err
			}
		} else {
			printStatus(st)
		}
		if !st.Healthy {
			return fmt.Errorf("service unhealthy")
		}
		return nil
	},
}

func printStatus(st *server.Status) {
	fmt.Printf("Health:   %s\n", ui.RenderHealth(st.Healthy))
	if w := st.Watcher; w != nil {
		fmt.Printf("Watchers: %d", w.Watchers)
		if len(w.Stale) > 0 {
			fmt.Printf(" (%s)", ui.RenderFail(fmt.Sprintf("%d stale", len(w.Stale))))
		}
		fmt.Println()
	}
	if m := st.Maintenance; m != nil {
		if m.Queue != nil {
			fmt.Printf("Queue:    %d pending, %d failed\n", m.Queue.Pending, m.Queue.Failed)
		}
		fmt.Printf("Errors:   %d in the last hour\n", m.ErrorsLastHour)
		for _, p := range m.Problems {
			fmt.Println(ui.RenderWarn("  ! " + p))
		}
	}
}

var healthMarshal = protojson.MarshalOptions{EmitUnpopulated: true}

func renderHealth(resp *healthpb.HealthCheckResponse) string {
	if jsonOutput {
		return healthMarshal.Format(resp)
	}
	return ui.RenderStatus(resp.GetStatus().String())
}

// grpcHealth queries the gRPC health service, streaming changes when
// follow is set.
func grpcHealth(follow bool) error {
	hc, err := client.NewHealthClient(serverAddr, authToken)
	if err != nil {
		return err
	}
	defer hc.Close()

	if follow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return hc.Watch(ctx, server.ServiceName, func(resp *healthpb.HealthCheckResponse) {
			fmt.Printf("%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), renderHealth(resp))
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := hc.Check(ctx, server.ServiceName)
	if err != nil {
		return err
	}
	fmt.Println(renderHealth(resp))
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %s", resp.GetStatus())
	}
	return nil
}

func init() {
	healthCmd.Flags().Bool("grpc", false, "query the gRPC health service instead of HTTP")
	healthCmd.Flags().Bool("follow", false, "stream gRPC health changes until interrupted")
}

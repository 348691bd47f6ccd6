package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/request"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect request descriptors without sending them",
	}
	cmd.AddCommand(requestDumpCmd())
	return cmd
}

func requestDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [operation]",
		Short: "Print the descriptor one of the anonymous or account operations would send",
		Long: `Supported operations:
  turn-servers     TURN server info
  remote-config    feature flag set
  devices          linked device list
  messages         pending message fetch
  prekey-count     remaining one-time prekey count (aci|pni argument)
  sender-cert      sender certificate fetch
  group-creds      group credential range (start and end day arguments)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDescriptor(args)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", d.Method, d.URL())
			fmt.Printf("auth: %s\n", d.Auth)
			for name, values := range d.Headers {
				for _, v := range values {
					fmt.Printf("%s: %s\n", name, v)
				}
			}
			if len(d.Body) > 0 {
				fmt.Printf("\n%s\n", d.Body)
			}
			return nil
		},
	}
}

func buildDescriptor(args []string) (request.Descriptor, error) {
	switch args[0] {
	case "turn-servers":
		return request.TURNServerInfo(), nil
	case "remote-config":
		return request.RemoteConfig(), nil
	case "devices":
		return request.GetDevices(), nil
	case "messages":
		return request.GetMessages(), nil
	case "prekey-count":
		identity := ident.IdentityACI
		if len(args) > 1 && args[1] == "pni" {
			identity = ident.IdentityPNI
		}
		return request.AvailablePreKeyCount(identity)
	case "sender-cert":
		return request.SenderCertificate(false), nil
	case "group-creds":
		if len(args) < 3 {
			return request.Descriptor{}, fmt.Errorf("group-creds needs start and end day numbers")
		}
		start, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return request.Descriptor{}, err
		}
		end, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return request.Descriptor{}, err
		}
		return request.GroupCredentials(start, end)
	default:
		return request.Descriptor{}, fmt.Errorf("unknown operation %q", args[0])
	}
}

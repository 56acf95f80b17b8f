package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gitvfs/gitvfs/internal/enlistment"
	"github.com/gitvfs/gitvfs/internal/ipcpipe"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Ask a running mount to tear itself down",
	Args:  cobra.NoArgs,
	RunE:  runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	e, err := discoverEnlistment()
	if err != nil {
		return fmt.Errorf("unmount: %w", err)
	}

	conn, err := net.Dial("unix", e.SocketPath())
	if err != nil {
		return fmt.Errorf("unmount: no running mount found at %s: %w", e.WorkingDir, err)
	}
	defer conn.Close()

	if err := ipcpipe.WriteMessage(conn, string(ipcpipe.HeaderUnmount), nil); err != nil {
		return fmt.Errorf("unmount: send request: %w", err)
	}
	msg, err := ipcpipe.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("unmount: read response: %w", err)
	}
	if msg.Header != ipcpipe.RespSuccess {
		return fmt.Errorf("unmount: mount refused: %s", msg.Header)
	}
	fmt.Println("unmounted")
	return nil
}

func discoverEnlistment() (*enlistment.Enlistment, error) {
	root := viper.GetString("enlistment")
	if root == "" {
		root = "."
	}
	return enlistment.Discover(root)
}

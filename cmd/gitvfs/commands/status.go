package commands

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/gitvfs/gitvfs/internal/ipcpipe"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a running mount's status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := discoverEnlistment()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	conn, err := net.Dial("unix", e.SocketPath())
	if err != nil {
		fmt.Println("MountStatus: NotMounted")
		return nil
	}
	defer conn.Close()

	if err := ipcpipe.WriteMessage(conn, string(ipcpipe.HeaderGetStatus), nil); err != nil {
		return fmt.Errorf("status: send request: %w", err)
	}
	msg, err := ipcpipe.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("status: read response: %w", err)
	}
	if msg.Header != ipcpipe.RespSuccess {
		return fmt.Errorf("status: %s", msg.Header)
	}

	var info ipcpipe.StatusInfo
	if err := json.Unmarshal(msg.Body, &info); err != nil {
		return fmt.Errorf("status: decode response: %w", err)
	}

	fmt.Printf("EnlistmentRoot: %s\n", info.EnlistmentRoot)
	fmt.Printf("LocalCacheRoot: %s\n", info.LocalCacheRoot)
	fmt.Printf("RepoUrl: %s\n", info.RepoUrl)
	fmt.Printf("CacheServer: %s\n", info.CacheServer)
	fmt.Printf("LockStatus: %s\n", info.LockStatus)
	fmt.Printf("MountStatus: %s\n", info.MountStatus)
	fmt.Printf("DiskLayoutVersion: %d\n", info.DiskLayoutVersion)
	fmt.Printf("BackgroundOperationCount: %d\n", info.BackgroundOperationCount)
	return nil
}

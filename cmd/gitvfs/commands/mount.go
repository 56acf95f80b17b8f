package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gitvfs/gitvfs/internal/authclient"
	"github.com/gitvfs/gitvfs/internal/config"
	"github.com/gitvfs/gitvfs/internal/enlistment"
	"github.com/gitvfs/gitvfs/internal/ipcpipe"
	"github.com/gitvfs/gitvfs/internal/journal"
	"github.com/gitvfs/gitvfs/internal/lockfile"
	"github.com/gitvfs/gitvfs/internal/maintenance"
	"github.com/gitvfs/gitvfs/internal/objcache"
	"github.com/gitvfs/gitvfs/internal/objectfetch"
	"github.com/gitvfs/gitvfs/internal/objstore"
	"github.com/gitvfs/gitvfs/internal/projection"
	"github.com/gitvfs/gitvfs/internal/trace"
	"github.com/gitvfs/gitvfs/internal/virtfs"
)

// clientVersion is the version in the GVFS/<ver> user agent authclient
// sends.
const clientVersion = "1.0"

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount the enlistment's working tree at mountpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	root := viper.GetString("enlistment")
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("mount: getwd: %w", err)
		}
	}
	e, err := enlistment.Discover(root)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	cfg, err := config.Load(e.WorkingDir)
	if err != nil {
		return fmt.Errorf("mount: load config: %w", err)
	}

	mountID, err := e.NewMountID()
	if err != nil {
		return fmt.Errorf("mount: mint mount id: %w", err)
	}

	sink, err := trace.Open(e.LogDir(), mountID)
	if err != nil {
		return fmt.Errorf("mount: open trace sink: %w", err)
	}
	defer sink.Close()

	store, err := objstore.Open(e.ObjectsDir())
	if err != nil {
		return fmt.Errorf("mount: open object store: %w", err)
	}
	defer store.Close()

	blobSizes, err := objcache.OpenBlobSizes(e.BlobSizesPath())
	if err != nil {
		return fmt.Errorf("mount: open blob sizes: %w", err)
	}
	defer blobSizes.Close()

	auth := authclient.New(authclient.ExecHelper{}, clientVersion)
	requester := objectfetch.New(cfg.CacheServerURL, auth, objectfetch.Options{
		MaxAttempts: cfg.MaxRetries,
		Sink:        sink,
	})

	coordinator := objcache.New(store, blobSizes, requester, 0)

	j, err := journal.Open(e.JournalPath())
	if err != nil {
		return fmt.Errorf("mount: open journal: %w", err)
	}
	defer j.Close()

	projector := projection.NewProjector(e.IndexPath())
	if _, err := projector.Refresh(true); err != nil {
		return fmt.Errorf("mount: initial projection: %w", err)
	}

	fsys := virtfs.New(projector, j, coordinator)

	lock := lockfile.New()
	guard, err := lockfile.AcquireMountGuard(e.SocketPath() + ".guard")
	if err != nil {
		return fmt.Errorf("mount: another gitvfs process already holds this enlistment: %w", err)
	}
	defer guard.Release()

	scheduler := maintenance.New(e.GateDir(), maintenance.Env{
		GitDir:  e.GitDir,
		PackDir: e.PackDir(),
		RequiredConfig: map[string]string{
			"core.virtualFilesystem": "true",
			"index.version":          "4",
		},
	}, maintenance.ProcRunningGitChecker{})

	router := ipcpipe.NewRouter()
	ipcpipe.RegisterAcquireLock(router, lock)
	ipcpipe.RegisterReleaseLock(router, lock)
	ipcpipe.RegisterDownloadObject(router, coordinator)
	ipcpipe.RegisterModifiedPaths(router, j, "1")
	ipcpipe.RegisterPostIndexChanged(router, projector)
	ipcpipe.RegisterRunPostFetchJob(router, scheduler)

	unmountRequested := make(chan struct{}, 1)
	status := &mountStatus{
		enlistment: e,
		cfg:        cfg,
		lock:       lock,
		state:      "Ready",
	}
	ipcpipe.RegisterGetStatus(router, status)
	ipcpipe.RegisterUnmount(router, lock, func() {
		select {
		case unmountRequested <- struct{}{}:
		default:
		}
	})
	router.SetState(ipcpipe.StateReady)

	listener, err := ipcpipe.Listen(e.SocketPath())
	if err != nil {
		return fmt.Errorf("mount: listen on ipc socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := ipcpipe.Serve(ctx, listener, router); err != nil {
			log.Printf("[gitvfs] ipc server stopped: %v", err)
		}
	}()

	server, err := fsys.Mount(mountpoint, debug)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	log.Printf("[gitvfs] mounted %s at %s (mount id %s)", e.WorkingDir, mountpoint, mountID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Print("[gitvfs] received interrupt, unmounting")
	case <-unmountRequested:
		log.Print("[gitvfs] unmount requested over ipc, unmounting")
	}

	router.SetState(ipcpipe.StateUnmounting)
	lock.BeginUnmount()
	cancel()
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("mount: unmount: %w", err)
	}
	return nil
}

// mountStatus satisfies ipcpipe.StatusReporter from the live mount's own
// state, the fields no single component owns end to end.
type mountStatus struct {
	enlistment *enlistment.Enlistment
	cfg        *config.Config
	lock       *lockfile.Lock
	state      string
}

func (s *mountStatus) Status() ipcpipe.StatusInfo {
	lockStatus := "None"
	if h, held := s.lock.Current(); held {
		lockStatus = fmt.Sprintf("%s (pid %d)", h.Name, h.PID)
	}
	return ipcpipe.StatusInfo{
		EnlistmentRoot:    s.enlistment.WorkingDir,
		LocalCacheRoot:    s.enlistment.ObjectsDir(),
		RepoUrl:           s.cfg.CacheServerURL,
		CacheServer:       s.cfg.CacheServerURL,
		LockStatus:        lockStatus,
		DiskLayoutVersion: 1,
		MountStatus:       s.state,
	}
}

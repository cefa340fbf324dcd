// Package sync runs one synchronization between the local store and the
// remote sync blob.
//
// # Overview
//
// A run is a fixed sequence guarded by the advisory remote lock:
//
//	Idle -> BackingUp -> AcquiringLock -> Downloading -> Importing
//	     -> [Exporting -> Uploading] -> ReleasingLock -> Done
//
// Exporting and Uploading are skipped for load-only runs. Any failure after
// BackingUp moves the run to Error, but the lock is released and the
// temporary blob file removed on every exit path once the lock was taken.
//
// # Progress
//
// The caller-supplied Notifier is invoked synchronously at fixed milestones:
//
//	  0  Starting synchronization
//	  1  Creating backup
//	 25  Checking sync lock
//	  2  Downloading...
//	 20  Uploading...         (not for load-only runs)
//	 90  Removing sync lock
//	100  Completed
//
// A notifier error aborts the run. It is not swallowed.
//
// # Errors
//
//   - ErrNotConfigured: the transport is missing or not ready; nothing ran
//   - ErrLocked: another device holds the lock; only the backup was made
//   - *Error: any other failure, carrying the state it happened in
//
// An import that fails part way leaves the collections it already wrote in
// the local store. There is no rollback.
//
// # Usage
//
//	orch := sync.New(sync.Config{
//	    Transport:    t,
//	    DeviceSource: db,
//	    Backup:       store.NewBackupManager(db, backupDir, 10),
//	    Importer:     exchange.NewLoader(db, logger),
//	    Exporter:     exchange.NewDumper(db, logger),
//	    Notifier:     func(p int, msg string) error { fmt.Println(p, msg); return nil },
//	    Logger:       logger,
//	})
//	res, err := orch.Sync(ctx, sync.Options{})
//	if errors.Is(err, sync.ErrLocked) {
//	    // try again later
//	}
package sync

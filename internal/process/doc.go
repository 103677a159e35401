// Package process supervises a long-running child process.
//
// The location-sharing daemon uses it to run its background reporting
// service (`locshared report`) outside its own event loop. A Manager
// launches the child in its own process group, forwards its output to the
// logger, relaunches it with exponential backoff after unexpected exits,
// and stops it with SIGTERM followed by SIGKILL.
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "reporter",
//	    Binary:           exe,
//	    Args:             []string{"report", "--user", userID},
//	    Env:              []string{"LOCSHARE_SESSION_TOKEN=" + token},
//	    RestartOnFailure: true,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

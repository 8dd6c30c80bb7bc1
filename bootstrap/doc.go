// Package bootstrap runs an application's lifecycle: it validates the typed
// config, starts registered components in order, runs hooks, waits for a
// shutdown signal and stops components in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    return err
//	}
//	_ = app.RegisterComponent(server.NewComponent(srv))
//	_ = app.RegisterComponent(discoveryComponent)
//	return app.Run(ctx)
package bootstrap

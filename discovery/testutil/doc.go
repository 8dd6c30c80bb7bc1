// Package testutil provides a fault-injecting discovery.Provider wrapper
// for tests.
//
//	p := testutil.Wrap(static.NewProvider(nil, nil))
//	p.FailNext(testutil.OpRegister, 2, nil)
//	// the first two Register calls fail, the third reaches the static provider
package testutil

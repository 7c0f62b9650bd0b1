// Package bind exposes the WASI preview2 hosts to wazero guests.
//
// Every WASI interface becomes a host module named by its namespace, such
// as "wasi:io/poll@0.2.8". Only functions whose canonical ABI lowering is
// scalar are bound: handles, booleans, integers and result discriminants.
//
//	r := wazero.NewRuntime(ctx)
//	w := preview2.New()
//	mods, err := bind.Instantiate(ctx, r, w, bind.Config{HTTP: http.DefaultConfig()})
//	if err != nil {
//		return err
//	}
//	defer mods.Close(ctx)
//
// Host faults and traps abort the guest call: the host function panics and
// wazero returns the error from the guest's export.
package bind

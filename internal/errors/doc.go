// Package errors provides coded, operator-facing errors for the liveview
// command.
//
// Each error has a code (L1xx config, L2xx session store, L3xx server)
// registered with a message and, usually, a hint. Configuration errors can
// point at the offending line of liveview.yaml:
//
//	err := errors.New(errors.CodeConfigSyntax).
//	    WithLocationFromYAML("liveview.yaml", yamlErr).
//	    Wrap(yamlErr)
//	errors.Formatter{Color: true}.Print(os.Stderr, err)
//	// error L101: Config file is not valid YAML
//	//   --> liveview.yaml:4
//	//        2 | server:
//	//        3 |   addr: ":8080"
//	//     >  4 |  resume_window: 5m
//	//   cause: yaml: line 4: did not find expected key
//	//   hint: Check indentation and that every key is followed by a colon
package errors

// Package toolregistry registers and invokes the tools the agent can call.
//
// Invariants:
// - Tool names are unique; re-registering replaces the earlier definition.
// - Parameters are schema-validated before the handler runs; undeclared
//   parameters are rejected.
// - Every invocation runs under a timeout.
//
// Usage:
//
//	reg := toolregistry.New()
//	_ = reg.Register(toolregistry.Definition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolregistry.Parameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	out, _ := reg.Invoke(context.Background(), "echo", map[string]interface{}{"text": "hi"})
//	_ = out
package toolregistry

// Package policy builds the default policy pack applied to an agent's
// configuration, and loads pack overrides from YAML or JSON files.
//
// The pack is pure data: evaluation happens in the Anchor service. Apply a
// pack with the client's Config.Update:
//
//	pack := policy.BuildDefaultPolicies(policy.PackConfig{
//	    BlockSecrets: policy.Bool(false),
//	    MaxQuerySize: policy.Null[int](),
//	})
//	_, err := client.Config.Update(ctx, agentID, pack)
package policy

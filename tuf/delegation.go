package tuf

// roleStep is one frame of the delegation search: the role name to fetch
// next and its parent's Delegations entry, to resolve its keys/threshold
// against. Using an explicit stack instead of recursion lets the total
// number of roles visited and pending be bounded without recursion-limit
// tricks.
type roleStep struct {
	role   string
	parent DelegatedRole
}

// delegationFetcher loads one targets or delegated-targets envelope by
// role name, already verified against its parent's keys/threshold and the
// snapshot's claimed version. parent is the zero DelegatedRole for the
// top-level "targets" role, which is verified against root instead.
type delegationFetcher func(role string, parent DelegatedRole) (*Envelope[TargetsSigned], error)

// resolveTarget performs a pre-order depth-first search for targetPath,
// starting from the top-level targets role, following delegations in the
// order they're listed. A delegation whose Paths/PathHashPrefixes claim
// the path is descended into immediately (pre-order: before siblings);
// Terminating on a matching delegation stops the search among that
// delegation's siblings in the same parent Roles list once it's been
// explored, but never stops an ancestor branch from being tried via a
// different path. maxDepth bounds the total number of roles visited plus
// still-pending on the stack, not the hop depth of any one branch, so a
// wide but shallow delegation graph trips the cap just as a deep narrow one
// does.
func resolveTarget(fetch delegationFetcher, targetPath string, maxDepth int) (*TargetFile, string, error) {
	top, err := fetch("targets", DelegatedRole{})
	if err != nil {
		return nil, "", err
	}

	visited := map[string]bool{"targets": true}
	stack := []roleStep{{role: "targets"}}
	depthExceeded := false

	for len(stack) > 0 {
		step := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var env *Envelope[TargetsSigned]
		if step.role == "targets" {
			env = top
		} else {
			env, err = fetch(step.role, step.parent)
			if err != nil {
				continue
			}
		}

		if tf, ok := env.Signed.Targets[targetPath]; ok {
			return &tf, step.role, nil
		}

		if env.Signed.Delegations == nil {
			continue
		}

		// Push children in reverse so the first-listed delegation is
		// popped and explored first: pre-order, list order. A
		// Terminating match stops considering further siblings in this
		// same Roles list, but other branches already on the stack are
		// unaffected. Each candidate is admitted only while the total
		// count of roles already visited plus roles still pending (on
		// the stack, including ones queued earlier in this same loop)
		// stays under maxDepth; once it doesn't, no further delegations
		// are queued from anywhere in the graph.
		children := env.Signed.Delegations.Roles
		var pushed []roleStep
		for _, dr := range children {
			if visited[dr.Name] {
				continue
			}
			if !matchesDelegation(dr, targetPath) {
				continue
			}
			if len(visited)+len(stack)+len(pushed) >= maxDepth {
				depthExceeded = true
				break
			}
			pushed = append(pushed, roleStep{role: dr.Name, parent: dr})
			visited[dr.Name] = true
			if dr.Terminating {
				break
			}
		}
		for i := len(pushed) - 1; i >= 0; i-- {
			stack = append(stack, pushed[i])
		}
	}

	if depthExceeded {
		return nil, "", MaxDelegationDepthError{Max: maxDepth}
	}
	return nil, "", TargetNotFoundError{Path: targetPath}
}

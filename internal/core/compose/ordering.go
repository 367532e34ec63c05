package compose

// =============================================================================
// Service Ordering Functions
// =============================================================================

// StartOrder sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first, so starting the result in order
// always starts a service after everything it depends on.
//
// If a cycle exists (which is caught at parse time), remaining services are
// appended to the result as a fallback.
func StartOrder(services []Service) []Service {
	if len(services) == 0 {
		return services
	}

	// Build dependency graph
	serviceMap := make(map[string]Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Start with services that have no dependencies
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	// Process queue (BFS)
	var result []Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		// Reduce in-degree for dependents
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// If we didn't get all services, there's a cycle. Append the rest.
	if len(result) < len(services) {
		for _, svc := range services {
			found := false
			for _, r := range result {
				if r.Name == svc.Name {
					found = true
					break
				}
			}
			if !found {
				result = append(result, svc)
			}
		}
	}

	return result
}

// StopOrder is StartOrder reversed, so dependents stop before what they
// depend on.
func StopOrder(services []Service) []Service {
	ordered := StartOrder(services)
	reversed := make([]Service, len(ordered))
	for i, svc := range ordered {
		reversed[len(ordered)-1-i] = svc
	}
	return reversed
}

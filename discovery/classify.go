package discovery

// Classify folds a node's check results into a single Status.
//
// An empty list is Critical: with no evidence of health the node is not
// presented as available. Otherwise the scan starts at Passing, a Warning
// raises the result to Warning and keeps scanning, and the first Critical
// ends the scan.
func Classify(checks []CheckResult) Status {
	if len(checks) == 0 {
		return StatusCritical
	}
	status := StatusPassing
	for _, c := range checks {
		switch c.Status {
		case StatusCritical:
			return StatusCritical
		case StatusWarning:
			status = StatusWarning
		}
	}
	return status
}

// ToNodes maps a health view onto fresh Node values, preserving the order
// the coordination service returned.
func ToNodes(service string, entries []ServiceEntry) []Node {
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		var tags []string
		if len(e.Tags) > 0 {
			tags = append([]string(nil), e.Tags...)
		}
		nodes = append(nodes, Node{
			ID:      e.ServiceID,
			Address: e.Address,
			Port:    e.Port,
			Name:    e.Member,
			Service: service,
			Tags:    tags,
			Status:  Classify(e.Checks),
		})
	}
	return nodes
}

package domain

var Tables = []interface{}{
	// Network
	&NetNode{},
	&NetDevice{},
	&NetSubscriber{},
	// Diagnostic
	&DiagnosticLog{},
}

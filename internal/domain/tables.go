package domain

var Tables = []interface{}{
	&Monitor{},
	&ExecutionLog{},
	&PerformanceMetric{},
}

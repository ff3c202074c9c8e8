package redisq

type keys struct {
	main       string
	delayed    string
	processing string
	dlq        string
	job        string
	idem       string
}

// main and dlq are lists of job ids; delayed and processing are sorted sets
// scored by run-at and visibility deadline in unix ms; every job is a hash.
func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "newsq"
	}
	return keys{
		main:       prefix + ":queue:main",
		delayed:    prefix + ":queue:delayed",
		processing: prefix + ":queue:processing",
		dlq:        prefix + ":queue:dlq",
		job:        prefix + ":job:",
		idem:       prefix + ":idem:",
	}
}

func (k keys) jobKey(id string) string { return k.job + id }

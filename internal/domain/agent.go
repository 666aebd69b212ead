package domain

// Agent is one configured agent record. AgentLogin doubles as the agent's
// directory address (DN); Capacity bounds simultaneous interactions per
// media type (0 means the default of 1).
type Agent struct {
	UserName   string `json:"userName" yaml:"userName"`
	FirstName  string `json:"firstName" yaml:"firstName"`
	LastName   string `json:"lastName" yaml:"lastName"`
	AgentLogin string `json:"agentLogin" yaml:"agentLogin"`
	DBID       int    `json:"dbid" yaml:"dbid"`
	Password   string `json:"-" yaml:"password"`
	Capacity   int    `json:"capacity,omitempty" yaml:"capacity"`
	Supervisor bool   `json:"supervisor,omitempty" yaml:"supervisor"`
}

// EffectiveCapacity returns the configured capacity, defaulting to 1.
func (a *Agent) EffectiveCapacity() int {
	if a == nil || a.Capacity <= 0 {
		return 1
	}
	return a.Capacity
}

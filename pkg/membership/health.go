package membership

// HealthReporter is implemented by memberships that expose a local health
// score. Lower is healthier; -1 means not started.
type HealthReporter interface {
    HealthScore() int
}

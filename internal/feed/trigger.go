package feed

// Trigger turns a sentinel's visibility into load-more signals. It fires on
// the not-visible to visible edge only, and once per designated sentinel:
// after firing it stays quiet until a different sentinel is designated or
// it is explicitly re-armed.
type Trigger struct {
	sentinel string
	visible  bool
	armed    bool
	enabled  bool
	detached bool
}

func NewTrigger() *Trigger {
	return &Trigger{enabled: true}
}

// Designate makes id the observed sentinel. Designating the current
// sentinel again does not re-arm.
func (t *Trigger) Designate(id string) {
	if t.detached || id == "" || id == t.sentinel {
		return
	}
	t.sentinel = id
	t.visible = false
	t.armed = true
}

// Observe feeds the sentinel's current visibility and reports whether a
// load-more signal fires.
func (t *Trigger) Observe(visible bool) bool {
	if t.detached || t.sentinel == "" {
		return false
	}
	rising := visible && !t.visible
	t.visible = visible
	if !rising || !t.armed || !t.enabled {
		return false
	}
	t.armed = false
	return true
}

// Rearm allows the current sentinel to fire again on its next rising edge.
func (t *Trigger) Rearm() {
	if t.sentinel != "" {
		t.armed = true
	}
}

// SetEnabled gates firing. A disabled trigger keeps tracking visibility so
// it does not fire for an element that was already visible when re-enabled.
func (t *Trigger) SetEnabled(on bool) { t.enabled = on }

// Enabled reports whether the trigger may currently fire.
func (t *Trigger) Enabled() bool { return t.enabled && !t.detached }

// Sentinel returns the designated sentinel id.
func (t *Trigger) Sentinel() string { return t.sentinel }

// Reset forgets the sentinel; the next Designate arms again.
func (t *Trigger) Reset() {
	t.sentinel = ""
	t.visible = false
	t.armed = false
}

// Detach stops the trigger for good.
func (t *Trigger) Detach() {
	t.Reset()
	t.detached = true
}

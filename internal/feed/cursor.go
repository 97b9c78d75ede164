package feed

// Cursor tracks the pagination position of one sub key. Index is the last
// page appended and is meaningful once Started reports true.
type Cursor struct {
	index     int
	started   bool
	exhausted bool
	inFlight  bool
}

func (c *Cursor) Index() int { return c.index }
func (c *Cursor) Started() bool { return c.started }
func (c *Cursor) Exhausted() bool { return c.exhausted }
func (c *Cursor) InFlight() bool { return c.inFlight }

func (c *Cursor) next() int {
	if !c.started {
		return 0
	}
	return c.index + 1
}

// Trigger claims the next page. It refuses while exhausted or while another
// page is in flight.
func (c *Cursor) Trigger() (page int, ok bool) {
	if c.exhausted || c.inFlight {
		return 0, false
	}
	c.inFlight = true
	return c.next(), true
}

// Pending returns the page currently in flight.
func (c *Cursor) Pending() (page int, ok bool) {
	if !c.inFlight {
		return 0, false
	}
	return c.next(), true
}

// Complete records a successful append of page.
func (c *Cursor) Complete(page int, last bool) {
	c.inFlight = false
	c.index = page
	c.started = true
	c.exhausted = last
}

// Exhaust ends pagination without advancing, used when a continuation page
// comes back empty.
func (c *Cursor) Exhaust() {
	c.inFlight = false
	c.exhausted = true
}

// Fail releases the in-flight claim without advancing so a later trigger
// retries the same page.
func (c *Cursor) Fail() {
	c.inFlight = false
}

func (c *Cursor) Reset() {
	*c = Cursor{}
}

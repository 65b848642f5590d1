// Package authority decides which peer is host: the peer allowed to resolve
// actions and broadcast the canonical snapshot. Host loss is recovered by a
// leaderless election in which every survivor evaluates the same pure
// function over the membership it knows about.
package authority

import "sort"

// Controller tracks the host of one room from the point of view of the
// local peer. It is owned by the peer's event loop.
type Controller struct {
	self   string
	hostID string
	epoch  uint64
}

func New(self string) *Controller {
	return &Controller{self: self}
}

func (c *Controller) Self() string {
	return c.self
}

func (c *Controller) HostID() string {
	return c.hostID
}

// IsHost reports whether the local peer is the current host.
func (c *Controller) IsHost() bool {
	return c.hostID != "" && c.hostID == c.self
}

// Epoch counts host changes observed by this peer. Snapshots from one host
// form a total order within an epoch.
func (c *Controller) Epoch() uint64 {
	return c.epoch
}

// CreateRoom makes the local peer host of a fresh room.
func (c *Controller) CreateRoom() {
	c.hostID = c.self
	c.epoch = 1
}

// Follow records the host a joining peer is connecting to.
func (c *Controller) Follow(hostID string) {
	c.hostID = hostID
}

// Adopt applies a hostChange notification. A notification that names the
// current host again is ignored. It reports whether the host changed.
func (c *Controller) Adopt(hostID string, epoch uint64) bool {
	if hostID == "" || hostID == c.hostID {
		if epoch > c.epoch {
			c.epoch = epoch
		}
		return false
	}
	c.hostID = hostID
	if epoch > c.epoch {
		c.epoch = epoch
	} else {
		c.epoch++
	}
	return true
}

// OnHostLost runs the election after the current host went away. members is
// the local view of the room; the departed host is dropped from it before
// the minimum is taken, so the result does not depend on whether its removal
// was processed first. It returns the elected id and whether the local peer
// promoted itself.
func (c *Controller) OnHostLost(members []string) (string, bool) {
	departed := c.hostID
	candidates := make([]string, 0, len(members)+1)
	seenSelf := false
	for _, id := range members {
		if id == departed {
			continue
		}
		if id == c.self {
			seenSelf = true
		}
		candidates = append(candidates, id)
	}
	if !seenSelf && c.self != departed {
		candidates = append(candidates, c.self)
	}

	elected := Elect(candidates)
	c.hostID = elected
	c.epoch++
	return elected, elected == c.self
}

// Elect returns the lexicographically smallest candidate, or "" for an empty
// set. Every peer that evaluates it over the same membership gets the same
// answer, which is what makes a voting round unnecessary.
func Elect(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[0]
}

package node

import (
	"time"

	"github.com/mendebian/p2p-game/internal/protocol"
	"github.com/mendebian/p2p-game/internal/session"
	"github.com/mendebian/p2p-game/internal/transport"
)

func (n *Node) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnection:
		n.onConnection(ev.Channel)
	case transport.EventData:
		n.onData(ev.Channel, ev.Data)
	case transport.EventClose:
		n.onClose(ev.Channel)
	case transport.EventDisconnected:
		n.onDisconnected(ev.Err)
	}
}

func (n *Node) onConnection(ch transport.Channel) {
	id := ch.Peer()
	if n.auth.IsHost() {
		n.admit(ch)
		return
	}
	if !n.inRoom() {
		n.log.Info().Str("remote", id).Msg("refusing channel, not in a room")
		ch.Close()
		return
	}
	// Only the host accepts channels. Keep this one in case an election
	// makes us host shortly.
	if old, ok := n.parked[id]; ok {
		old.ch.Close()
	}
	n.parked[id] = &parked{ch: ch}
	n.log.Debug().Str("remote", id).Msg("parked inbound channel")
}

// admit registers a channel on the host and sends it the current state.
func (n *Node) admit(ch transport.Channel) {
	id := ch.Peer()
	if old, ok := n.peers[id]; ok && old != ch {
		old.Close()
	}
	n.peers[id] = ch
	if n.regrouping {
		n.send(ch, protocol.HostChange{HostID: n.self, Epoch: n.auth.Epoch()})
	}
	n.send(ch, protocol.Init{
		Players: n.dir.Players(),
		Score:   n.dir.Score(),
		HostID:  n.self,
		Epoch:   n.auth.Epoch(),
	})
	n.log.Info().Str("remote", id).Int("peers", len(n.peers)).Msg("peer connected")
}

func (n *Node) onData(ch transport.Channel, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		n.log.Warn().Err(err).Str("from", ch.Peer()).Msg("dropping message")
		return
	}

	id := ch.Peer()
	switch {
	case n.auth.IsHost():
		if n.peers[id] == ch {
			n.handleAsHost(ch, msg)
		}
	case ch == n.host:
		n.handleFromHost(ch, msg)
	default:
		if p, ok := n.parked[id]; ok && p.ch == ch {
			n.handleParked(p, msg)
			return
		}
		if !n.holdEarly(ch, msg) {
			n.log.Debug().Str("type", string(msg.Type())).Str("from", id).Msg("dropping message from unknown channel")
		}
	}
}

func (n *Node) handleAsHost(ch transport.Channel, msg protocol.Message) {
	id := ch.Peer()
	switch m := msg.(type) {
	case protocol.NewPlayer:
		p := m.Player
		p.ID = id
		n.dir.Add(p)
		n.log.Info().Str("player", id).Int("players", n.dir.Len()).Msg("player joined")
		n.broadcastPlayers()
	case protocol.PlayerAction:
		// A peer may only move its own player.
		m.PlayerID = id
		if n.apply(m) {
			n.broadcastPlayers()
		}
	case protocol.HostChange:
		if m.HostID == id && n.auth.Adopt(m.HostID, m.Epoch) {
			n.stepDown(ch)
		}
	default:
		n.log.Debug().Str("type", string(msg.Type())).Str("from", id).Msg("ignoring message from non-host")
	}
}

func (n *Node) handleFromHost(ch transport.Channel, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Init:
		n.auth.Adopt(ch.Peer(), m.Epoch)
		n.replacePlayers(m.Players)
		n.dir.SetScore(m.Score)
		n.synced = true
		n.log.Info().Int("players", n.dir.Len()).Uint64("epoch", n.auth.Epoch()).Msg("received init")
	case protocol.UpdatePlayers:
		n.replacePlayers(m.Players)
	case protocol.UpdateScore:
		n.dir.SetScore(m.Score)
	case protocol.PlayerDisconnected:
		if m.PlayerID != n.self {
			n.dir.Remove(m.PlayerID)
		}
	case protocol.PlayerAction:
		n.apply(m)
	case protocol.HostChange:
		n.follow(m)
	default:
		n.log.Debug().Str("type", string(msg.Type())).Msg("ignoring message from host")
	}
}

func (n *Node) handleParked(p *parked, msg protocol.Message) {
	id := p.ch.Peer()
	if hc, ok := msg.(protocol.HostChange); ok && hc.HostID == id {
		if !n.auth.Adopt(hc.HostID, hc.Epoch) {
			return
		}
		delete(n.parked, id)
		n.switchHost(p.ch)
		return
	}
	if len(p.queue) >= parkedLimit {
		n.log.Warn().Str("remote", id).Msg("parked queue full, dropping message")
		return
	}
	p.queue = append(p.queue, msg)
}

// replacePlayers installs a snapshot, keeping the local entry if the
// snapshot does not have it yet.
func (n *Node) replacePlayers(players map[string]*session.PlayerState) {
	local, ok := n.dir.Get(n.self)
	n.dir.Replace(players)
	if ok && !n.dir.Has(n.self) {
		n.dir.Add(*local)
	}
}

// follow applies a hostChange received from the current host.
func (n *Node) follow(m protocol.HostChange) {
	if !n.auth.Adopt(m.HostID, m.Epoch) {
		return
	}
	old := n.host
	n.host = nil
	if m.HostID == n.self {
		n.peers[old.Peer()] = old
		n.promote()
		return
	}
	old.Close()
	n.closeParked()
	n.status = StatusElecting
	n.log.Info().Str("host", m.HostID).Msg("host moved, reconnecting")
	n.dial(n.ctx, m.HostID, nil)
}

// switchHost makes ch, a channel the new host opened to us, the host channel.
func (n *Node) switchHost(ch transport.Channel) {
	if n.host != nil {
		n.host.Close()
	}
	n.closeParked()
	n.dialSeq++
	n.host = ch
	n.status = StatusJoined
	n.synced = false
	if local, ok := n.dir.Get(n.self); ok {
		n.send(ch, protocol.NewPlayer{Player: *local})
	}
	n.log.Info().Str("host", ch.Peer()).Msg("following new host")
}

// stepDown hands the room to the peer behind ch after it won an election we
// did not see. Our peers are told and will reconnect to it.
func (n *Node) stepDown(ch transport.Channel) {
	id := ch.Peer()
	delete(n.peers, id)
	n.broadcast(protocol.HostChange{HostID: id, Epoch: n.auth.Epoch()})
	n.peers = make(map[string]transport.Channel)
	n.regrouping = false
	n.dirty = false

	n.host = ch
	n.status = StatusJoined
	n.synced = false
	if local, ok := n.dir.Get(n.self); ok {
		n.send(ch, protocol.NewPlayer{Player: *local})
	}
	n.log.Warn().Str("host", id).Msg("stepped down")
}

func (n *Node) onClose(ch transport.Channel) {
	id := ch.Peer()

	if n.auth.IsHost() {
		if n.peers[id] != ch {
			return
		}
		delete(n.peers, id)
		if n.dir.Remove(id) {
			n.broadcast(protocol.PlayerDisconnected{PlayerID: id})
			n.broadcastPlayers()
		}
		n.log.Info().Str("player", id).Int("peers", len(n.peers)).Msg("player left")
		return
	}

	if ch == n.host {
		n.hostLost()
		return
	}
	if p, ok := n.parked[id]; ok && p.ch == ch {
		delete(n.parked, id)
	}
}

// hostLost reacts to the host channel closing.
func (n *Node) hostLost() {
	departed := n.auth.HostID()
	n.host = nil

	if !n.cfg.HostMigration || (!n.synced && n.status == StatusJoined) {
		n.log.Warn().Str("host", departed).Msg("host lost")
		n.leaveRoom(ErrHostLost)
		return
	}

	members := n.dir.IDs()
	n.dir.Remove(departed)
	elected, promoted := n.auth.OnHostLost(members)
	n.log.Info().
		Str("departed", departed).
		Str("elected", elected).
		Strs("members", members).
		Uint64("epoch", n.auth.Epoch()).
		Msg("host lost, election held")

	if promoted {
		n.promote()
		return
	}
	n.closeParked()
	n.status = StatusElecting
	n.dial(n.ctx, elected, nil)
}

// promote turns this peer into the host. Channels parked while we were not
// host are admitted and their queued messages replayed.
func (n *Node) promote() {
	n.status = StatusHosting
	n.synced = true
	n.regrouping = true
	epoch := n.auth.Epoch()
	n.log.Info().Uint64("epoch", epoch).Msg("promoted to host")

	waiting := n.parked
	n.parked = make(map[string]*parked)
	for _, id := range sortedKeys(waiting) {
		n.peers[id] = waiting[id].ch
	}
	n.broadcast(protocol.HostChange{HostID: n.self, Epoch: epoch})
	for _, id := range sortedKeys(n.peers) {
		ch := n.peers[id]
		n.send(ch, protocol.Init{
			Players: n.dir.Players(),
			Score:   n.dir.Score(),
			HostID:  n.self,
			Epoch:   epoch,
		})
		if p, ok := waiting[id]; ok {
			for _, msg := range p.queue {
				n.handleAsHost(ch, msg)
			}
		}
	}
	n.broadcastPlayers()

	time.AfterFunc(n.cfg.RejoinGrace, func() {
		n.post(graceExpired{epoch: epoch})
	})
}

// pruneStale drops players that did not reconnect after an election.
func (n *Node) pruneStale(epoch uint64) {
	if epoch != n.auth.Epoch() || !n.auth.IsHost() {
		return
	}
	n.regrouping = false

	var removed []string
	for _, id := range n.dir.IDs() {
		if id == n.self {
			continue
		}
		if _, ok := n.peers[id]; !ok {
			n.dir.Remove(id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return
	}
	for _, id := range removed {
		n.broadcast(protocol.PlayerDisconnected{PlayerID: id})
	}
	n.broadcastPlayers()
	n.log.Info().Strs("players", removed).Msg("removed players that did not rejoin")
}

func (n *Node) onDisconnected(err error) {
	// Every channel runs through the broker, so none survives to elect over.
	n.log.Warn().Err(err).Msg("transport disconnected")
	n.leaveRoom(ErrOffline)
	n.status = StatusOffline
}

// leaveRoom resets to a room of one and tells the user why.
func (n *Node) leaveRoom(reason error) {
	n.closeAll()
	n.early = nil
	n.dialSeq++
	n.dir.Clear(n.self)
	n.dir.SetScore(session.Score{})
	n.auth.Follow("")
	n.status = StatusIdle
	n.synced = false
	n.regrouping = false
	n.dirty = false
	n.alert(reason)
}

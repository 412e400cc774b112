package lobbynet

import (
	"slices"

	"github.com/legamerdc/lobbynet/transport"
)

// registry 只做簿记：按 ID / 地址 / 句柄索引连接，并维护就绪查询的候选集合。
// 不执行任何 I/O。集合的增删与登记表的增删在同一次调用中完成，
// 因此不会出现被查询却没有登记项的句柄。
type registry struct {
	byID     map[ConnID]*Conn
	byAddr   map[Address]*Conn
	byHandle map[transport.Handle]*Conn
	pending  map[transport.Handle]*Conn

	listener transport.Handle
	readers  map[transport.Handle]struct{}
	writers  map[transport.Handle]struct{}
}

func newRegistry() *registry {
	return &registry{
		byID:     make(map[ConnID]*Conn),
		byAddr:   make(map[Address]*Conn),
		byHandle: make(map[transport.Handle]*Conn),
		pending:  make(map[transport.Handle]*Conn),
		listener: transport.InvalidHandle,
		readers:  make(map[transport.Handle]struct{}),
		writers:  make(map[transport.Handle]struct{}),
	}
}

func (r *registry) setListener(h transport.Handle) {
	if r.listener != transport.InvalidHandle {
		delete(r.readers, r.listener)
	}
	r.listener = h
	if h != transport.InvalidHandle {
		r.readers[h] = struct{}{}
	}
}

// register 登记一条已建立的连接：成为读候选，有待发数据时同时成为写候选。
func (r *registry) register(c *Conn) {
	r.byID[c.ID] = c
	r.byAddr[c.Addr] = c
	r.byHandle[c.handle] = c
	r.readers[c.handle] = struct{}{}
	if c.Queued() > 0 {
		r.writers[c.handle] = struct{}{}
	} else {
		delete(r.writers, c.handle)
	}
}

// addPending 登记一个发起中的出站连接：只作为写候选。
func (r *registry) addPending(c *Conn) {
	r.pending[c.handle] = c
	r.byHandle[c.handle] = c
	r.writers[c.handle] = struct{}{}
}

// promote 把完成握手的待定连接转为正式登记。
func (r *registry) promote(c *Conn) {
	delete(r.pending, c.handle)
	r.register(c)
}

// unregister 从所有集合与索引中移除；重复调用无副作用。
func (r *registry) unregister(c *Conn) {
	delete(r.pending, c.handle)
	if r.byHandle[c.handle] == c {
		delete(r.byHandle, c.handle)
		delete(r.readers, c.handle)
		delete(r.writers, c.handle)
	}
	if r.byID[c.ID] == c {
		delete(r.byID, c.ID)
	}
	if r.byAddr[c.Addr] == c {
		delete(r.byAddr, c.Addr)
	}
}

func (r *registry) armWrite(c *Conn) {
	if r.byHandle[c.handle] == c {
		r.writers[c.handle] = struct{}{}
	}
}

func (r *registry) disarmWrite(c *Conn) {
	if _, ok := r.pending[c.handle]; ok {
		return
	}
	delete(r.writers, c.handle)
}

func (r *registry) lookup(addr Address) (*Conn, bool) {
	c, ok := r.byAddr[addr]
	return c, ok
}

func (r *registry) get(id ConnID) (*Conn, bool) {
	c, ok := r.byID[id]
	return c, ok
}

func (r *registry) handle(h transport.Handle) *Conn { return r.byHandle[h] }

func (r *registry) pendingConn(h transport.Handle) *Conn { return r.pending[h] }

// pendingTo 报告是否存在发往 addr 的待定连接。
func (r *registry) pendingTo(addr Address) bool {
	for _, c := range r.pending {
		if c.Addr == addr {
			return true
		}
	}
	return false
}

// candidates 按升序返回读/写候选集合。
func (r *registry) candidates(read, write []transport.Handle) ([]transport.Handle, []transport.Handle) {
	for h := range r.readers {
		read = append(read, h)
	}
	for h := range r.writers {
		write = append(write, h)
	}
	slices.Sort(read)
	slices.Sort(write)
	return read, write
}

// open 按 ID 升序返回已登记的连接。
func (r *registry) open() []*Conn {
	out := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Conn) int { return compareID(a.ID, b.ID) })
	return out
}

// pendingSorted 按 ID 升序返回待定连接。
func (r *registry) pendingSorted() []*Conn {
	out := make([]*Conn, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Conn) int { return compareID(a.ID, b.ID) })
	return out
}

func (r *registry) size() int { return len(r.byID) }

func compareID(a, b ConnID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

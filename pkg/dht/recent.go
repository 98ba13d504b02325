package dht

import "container/list"

// RecentList orders DHT-resident filenames by last use; eviction pulls
// from the tail.
type RecentList struct {
	order *list.List
	elems map[string]*list.Element
}

func NewRecentList() *RecentList {
	return &RecentList{
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

// Touch moves the name to the head, inserting it if unknown.
func (r *RecentList) Touch(name string) {
	if e, ok := r.elems[name]; ok {
		r.order.MoveToFront(e)
		return
	}
	r.elems[name] = r.order.PushFront(name)
}

// Oldest returns the least recently used name.
func (r *RecentList) Oldest() (string, bool) {
	e := r.order.Back()
	if e == nil {
		return "", false
	}
	return e.Value.(string), true
}

// Remove forgets the name.
func (r *RecentList) Remove(name string) {
	if e, ok := r.elems[name]; ok {
		r.order.Remove(e)
		delete(r.elems, name)
	}
}

// Len is the number of tracked names.
func (r *RecentList) Len() int {
	return r.order.Len()
}

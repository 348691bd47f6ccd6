// Package thread models the two conversation shapes the whitelist engine
// reasons about: a 1:1 contact thread and a group thread.
package thread

import "github.com/kestrelchat/kestrel/internal/ident"

// Thread is either a contact thread (Address set) or a group thread
// (GroupID set, with the known membership linkage).
type Thread struct {
	Address ident.Address
	GroupID ident.GroupID
	Members []ident.Address
}

// Contact builds a 1:1 thread for an address.
func Contact(addr ident.Address) Thread {
	return Thread{Address: addr}
}

// Group builds a group thread with its membership linkage.
func Group(id ident.GroupID, members ...ident.Address) Thread {
	return Thread{GroupID: id, Members: members}
}

// IsGroup reports whether the thread is a group thread.
func (t Thread) IsGroup() bool {
	return !t.GroupID.IsZero()
}

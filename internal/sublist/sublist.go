// Package sublist holds the subscription patterns of one client.
package sublist

import (
	"errors"
	"iter"
)

var (
	ErrEmpty    = errors.New("no subscriptions")
	ErrNotFound = errors.New("not subscribed to topic")
)

type node struct {
	topic string
	next  *node
}

// List is a singly linked list of patterns. Duplicates are allowed.
// The zero value is an empty list.
type List struct {
	head *node
	n    int
}

// Add inserts topic right after the head, or as the head of an empty list.
func (l *List) Add(topic string) {
	n := &node{topic: topic}
	if l.head == nil {
		l.head = n
	} else {
		n.next = l.head.next
		l.head.next = n
	}
	l.n++
}

// Delete removes the first node equal to topic.
func (l *List) Delete(topic string) error {
	if l.head == nil {
		return ErrEmpty
	}

	var prev *node
	for n := l.head; n != nil; prev, n = n, n.next {
		if n.topic != topic {
			continue
		}
		if prev == nil {
			l.head = n.next
		} else {
			prev.next = n.next
		}
		n.next = nil
		l.n--
		return nil
	}

	return ErrNotFound
}

// Destroy drops every node.
func (l *List) Destroy() {
	for n := l.head; n != nil; {
		next := n.next
		n.next = nil
		n = next
	}
	l.head, l.n = nil, 0
}

func (l *List) Len() int {
	return l.n
}

// All yields the patterns in list order.
func (l *List) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for n := l.head; n != nil; n = n.next {
			if !yield(n.topic) {
				return
			}
		}
	}
}

// Any reports whether match returns true for some pattern. It stops at the first hit.
func (l *List) Any(match func(pattern string) bool) bool {
	for n := l.head; n != nil; n = n.next {
		if match(n.topic) {
			return true
		}
	}
	return false
}

/*
Package ports implements collision-free loopback port allocation for instances.

Every running instance owns exactly one reservation; only the supervisor asks
for ports and only the supervisor releases them. The allocator verifies each
candidate with a real loopback bind before recording it, all under a single
lock, so concurrent reservers can never race to the same port:

	choose smallest candidate -> probe 127.0.0.1 bind -> record reservation
	└──────────────────── one critical section ────────────────────────┘

Released ports are quarantined for a short grace interval before reuse to
avoid handing a client a port whose previous socket is still in TIME_WAIT.

# Usage

	alloc := ports.NewDefault() // 40000-49999
	port, err := alloc.Reserve()
	if err != nil {
		// PortExhausted
	}
	defer alloc.Release(port)
*/
package ports

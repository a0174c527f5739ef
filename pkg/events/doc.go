/*
Package events provides the in-memory broker for task and asset lifecycle
events.

Components publish through the Publisher interface; the API streams the
events to clients as server-sent events. Delivery is best effort: the
publish queue holds 256 events and each subscriber buffers 50, and events
that do not fit are dropped rather than stalling a state transition.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.TaskID)
	}
*/
package events

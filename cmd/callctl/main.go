// Command callctl joins calls and manages room reservations against a
// signaling relay.
package main

func main() {
	Execute()
}

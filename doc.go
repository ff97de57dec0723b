/*

Package lorawan provides structures and tools to read and write LoRaWAN
1.0.x and 1.1 frames, derive session keys and keep per-device session
state.

Frames encode and decode against a Device context, which owns the root
keys, the join-session keys and (after an activation) the session
counters and session keys.

*/
package lorawan

// Command hashkey manages API keys for the ffmpeg API.
//
// Usage:
//
//	hashkey <command>
//
// Commands:
//
//	hash      Prompt for a key (input hidden) and print its bcrypt hash,
//	          ready to be used as API_KEY_HASH.
//
//	generate  Create a random key and print it together with its hash.
//
//	verify    Prompt for a key and check it against API_KEY_HASH.
//
// Environment:
//
//	API_KEY_HASH - Hash checked by the verify command
//	BCRYPT_COST  - bcrypt cost for new hashes (default: 12)
//
// Keeping only the hash in the service environment means a leaked
// deployment manifest does not leak a usable key.
package main

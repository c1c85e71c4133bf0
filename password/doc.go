// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// [Hasher.NeedsRehash] reports hashes made with weaker parameters so a user
// store can re-hash after the next successful login. [Hasher.VerifyMissing]
// lets a store spend the same time on unknown emails as on real ones.
//
// This package never stores passwords and imports no other deskauth package.
package password

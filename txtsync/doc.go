// Package txtsync follows a change log of the records table and feeds every
// logged insert, update and delete to a delivery.Deliverer. Triggers on the
// records table append to txt_change_log; a Follower remembers the last
// applied sequence number per follower name in txt_sync_state, so a restart
// resumes where it stopped and redelivers at most the unfinished batch.
package txtsync

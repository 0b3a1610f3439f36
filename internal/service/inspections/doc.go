// Package inspections implements the inspection lifecycle on top of the
// cluster and result-store collaborators.
//
// Dispatch compiles a specification and submits exactly one workflow; it
// never waits for the workflow to run. Status fans out to the build pod,
// the run job, the workflow and the result store concurrently:
//   - a missing build pod fails the query (the id is unknown);
//   - any other missing or failing source is reported as null;
//   - data_stored never fails the query.
//
// Results reads logs, reports and the stored specification back.
package inspections

// Comfyvideo generates videos with ComfyUI. It loads editor or API shaped Wan video
// workflows, resolves them into executable graphs, fills in the parameters of a job,
// runs the graph on a ComfyUI server and returns the produced video.
//
// The graphapi package resolves workflows, client speaks the ComfyUI HTTP and
// websocket API, workflow holds the templates and their injectors, job runs a job
// end to end and cmd/comfyvideo is the command line entry point.
package comfyvideo

// Command agentgraph runs the bundled conversational agents.
//
//	agentgraph agents
//	agentgraph run web_searcher -t t1 -m "What's new in LangGraph?"
//	agentgraph resume web_searcher -t t1 --value '{"action":"continue"}'
//	agentgraph state web_searcher -t t1
//	agentgraph chat todos_manager --user lance
//
// Threads are checkpointed in SQLite by default, so a suspended run can be
// resumed by a later invocation.
package main

func main() {
	Execute()
}

// Package agent contains the agents of the virtual assistant team:
//
//   - Supervisor: routes every turn to the next specialist with a reason
//   - Enhancer: rewrites the user's request into a precise instruction
//   - Researcher: answers with the help of web search
//   - TaskAgent: manages tasks and task groups through the task tools
//
// Every agent implements Worker. Agents read the thread through the
// RunContext and persist what they produce with RunContext.Commit; routing
// between them is the engine's business.
package agent

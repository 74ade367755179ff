package reasoner

const beliefSystemPrompt = `You maintain the belief state of an autonomous agent. Beliefs are
(subject, predicate, object) triples with a confidence between 0 and 1.`

const beliefPrompt = `Extract the beliefs this observation supports.

Agent role: %s

Observation (source %q, kind %q):
%s

Beliefs already held about the same subjects:
%s

Respond ONLY with a JSON array. No markdown, no explanation. Example:
[{"subject":"pipeline","predicate":"coverage","object":"1.5","confidence":0.9,"reasoning":"reported by the CRM"}]

If the observation supports no belief, respond with an empty array: []`

const planSystemPrompt = `You plan for an autonomous agent. A plan is a short list of steps, each
executed by one of the agent's capabilities.`

const planPrompt = `Goal (%s, priority %d): %s
Target: %s

Current beliefs:
%s

Capabilities:
%s

What worked before:
%s

Respond ONLY with a JSON object. No markdown, no explanation. Each step has
type ("action", "tactic" or "strategy"), description, capability, action,
parameters, priority (1-10) and depends_on (zero-based indices of earlier steps).
Example:
{"reasoning":"...","steps":[{"type":"action","description":"find stalled deals","capability":"crm","action":"search","priority":6},{"type":"action","description":"nudge owners","capability":"mail","action":"send","priority":5,"depends_on":[0]}]}

If nothing can be done right now, respond with {"steps":[]}`

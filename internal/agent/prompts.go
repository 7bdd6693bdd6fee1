package agent

import "fmt"

// Prompt templates. Every template has a compact variant for small local
// models; compact mode trims instruction verbosity but keeps the same
// output contracts so parsing is identical in both modes.

const systemPromptFull = `You are an autonomous research agent.
You operate by planning research tasks, searching the web, extracting and
analyzing information, reflecting on your own work quality, and synthesizing
comprehensive reports. You are thorough, objective, and always provide
evidence-based conclusions.`

const systemPromptCompact = `You are a research agent. Analyze information and provide clear, factual responses. Be concise.`

func systemPrompt(compact bool) string {
	if compact {
		return systemPromptCompact
	}
	return systemPromptFull
}

const planningTemplateFull = `You are a research planner. Given a user's goal, break it down into specific research tasks.

USER'S GOAL:
%s

RESEARCH DEPTH: %s

Create a research plan with %d focused search queries. Each query should target a different aspect of the goal.

RULES:
- Each query should be specific and searchable on the web
- Cover different angles: technical detail, comparison, best practices, challenges, costs
- Queries should build on each other logically

Return ONLY the queries, one per line. No numbering, no bullets, no explanations.
Example format:
query one text here
query two text here
query three text here`

const planningTemplateCompact = `Break this goal into %d web search queries. Each query targets a different aspect.

GOAL: %s
DEPTH: %s

Return ONLY the queries, one per line. No numbering or explanations.
Example:
query one
query two`

func planningPrompt(goal, depth string, numQueries int, compact bool) string {
	if compact {
		return fmt.Sprintf(planningTemplateCompact, numQueries, goal, depth)
	}
	return fmt.Sprintf(planningTemplateFull, goal, depth, numQueries)
}

const analysisTemplateFull = `You are a research analyst.

RESEARCH QUERY: %s

SEARCH RESULTS:
%s

WEB CONTENT:
%s

Analyze the above information and provide:
1. KEY FINDINGS - The most important facts, specifications, and data points
2. TECHNICAL DETAILS - Relevant mechanisms, methods, and architectures
3. TRADE-OFFS - Competing options, costs, and constraints if present
4. GAPS - What information is missing or needs further research

Keep your analysis factual and concise (max 400 words). Cite sources when possible.`

const analysisTemplateCompact = `Analyze these search results for the query below. Provide key findings in 150 words max.

QUERY: %s

RESULTS:
%s

CONTENT:
%s

Write a brief factual summary of the key findings. Be concise.`

func analysisPrompt(query, searchResults, webContent string, compact bool) string {
	if compact {
		return fmt.Sprintf(analysisTemplateCompact, query, searchResults, webContent)
	}
	return fmt.Sprintf(analysisTemplateFull, query, searchResults, webContent)
}

const reflectionTemplateFull = `You are a quality reviewer evaluating research completeness.

ORIGINAL GOAL:
%s

RESEARCH COMPLETED SO FAR:
%s

Evaluate the research quality:
1. COMPLETENESS - Does the research fully address the user's goal? (Score 1-10)
2. DEPTH - Are there enough technical details and specifics? (Score 1-10)
3. GAPS - What critical information is still missing?
4. VERDICT - Should we do MORE research or is this SUFFICIENT?

Respond in this EXACT format:
COMPLETENESS: [score]
DEPTH: [score]
GAPS: [list any gaps, or "none"]
VERDICT: [MORE or SUFFICIENT]
ADDITIONAL_QUERIES: [if MORE, list 1-2 additional search queries, one per line. If SUFFICIENT, write "none"]`

const reflectionTemplateCompact = `Rate this research for the goal below.

GOAL: %s

RESEARCH:
%s

Reply in EXACTLY this format:
COMPLETENESS: [1-10]
DEPTH: [1-10]
GAPS: [gaps or none]
VERDICT: [MORE or SUFFICIENT]
ADDITIONAL_QUERIES: [queries or none]`

func reflectionPrompt(goal, researchSummary string, compact bool) string {
	if compact {
		return fmt.Sprintf(reflectionTemplateCompact, goal, researchSummary)
	}
	return fmt.Sprintf(reflectionTemplateFull, goal, researchSummary)
}

const reportTemplateFull = `You are a professional analyst and technical writer.

USER'S ORIGINAL GOAL:
%s

ALL RESEARCH FINDINGS:
%s

Write a comprehensive, professional Markdown report. Structure it as follows:

# %s

## Executive Summary
Brief overview of findings and recommendations (3-4 sentences).

## Background & Context
Why this matters and key context the reader needs.

## Key Findings
Organized by theme. Use tables for comparisons. Include specific technical details.

## Comparison & Analysis
If comparing options, use a detailed comparison table.

## Recommendations
Numbered, actionable recommendations with justification.

## Implementation Considerations
Risks, challenges, prerequisites.

## Conclusion
Final summary and next steps.

## Sources & References
List all sources from the research.

RULES:
- Be thorough and specific - this is a professional deliverable
- Use tables for comparisons
- Include technical specifics
- Provide actionable recommendations, not vague suggestions
- Write at least 1500 words for a detailed report`

const reportTemplateCompact = `Write a research report based on the findings below.

GOAL: %s

FINDINGS:
%s

# %s

## Summary
Brief overview (2-3 sentences).

## Key Findings
Main facts and insights.

## Recommendations
Top 3 actionable recommendations.

## Sources
List sources.

Keep the report under 600 words. Be direct and factual.`

func reportPrompt(goal, allFindings, title string, compact bool) string {
	if compact {
		return fmt.Sprintf(reportTemplateCompact, goal, allFindings, title)
	}
	return fmt.Sprintf(reportTemplateFull, goal, allFindings, title)
}

const titleTemplate = `Generate a short, professional report title for this research goal:
%q

Return ONLY the title, nothing else. No quotes. Example:
Cloud Migration Analysis: Options and Trade-offs`

func titlePrompt(goal string) string {
	return fmt.Sprintf(titleTemplate, goal)
}

const groundednessTemplate = `You are a strict fact-checker.
Review the following final report and compare it to the Source Context.

--- SOURCE CONTEXT ---
%s

--- FINAL REPORT ---
%s

Does the final report contain any massive hallucinations or completely fabricated facts that contradict the source context? Ignore minor formatting differences.
Reply EXACTLY with 'PASS' if grounded, or 'FAIL' if heavily hallucinated.`

func groundednessPrompt(context, report string) string {
	return fmt.Sprintf(groundednessTemplate, context, report)
}
